// Package proto holds the command/request/result envelope shared by the
// unit engine, the per-unit worker, and the command router (spec.md §4.5
// "Handlers share a small library of validators" and §6 "External
// Interfaces"). Keeping these types dependency-free lets worker and router
// queue requests without importing the engine.
package proto

import "fmt"

// Command identifies one of the supported operations of §6. Extended
// (ETD_*) variants are the same Command with Request.Extended set.
type Command int

const (
	CmdClear Command = iota
	CmdRead
	CmdWrite
	CmdUpdate
	CmdFormat
	CmdSeek
	CmdMotor
	CmdEject
	CmdChangeState
	CmdChangeNum
	CmdAddChangeInt
	CmdRemChangeInt
	CmdRemove
	CmdProtStatus
	CmdGetDriveType
	CmdGetNumTracks
	CmdGetGeometry
	CmdRawRead
	CmdDeviceQuery
)

var commandNames = map[Command]string{
	CmdClear:        "Clear",
	CmdRead:         "Read",
	CmdWrite:        "Write",
	CmdUpdate:       "Update",
	CmdFormat:       "Format",
	CmdSeek:         "Seek",
	CmdMotor:        "Motor",
	CmdEject:        "Eject",
	CmdChangeState:  "ChangeState",
	CmdChangeNum:    "ChangeNum",
	CmdAddChangeInt: "AddChangeInt",
	CmdRemChangeInt: "RemChangeInt",
	CmdRemove:       "Remove",
	CmdProtStatus:   "ProtStatus",
	CmdGetDriveType: "GetDriveType",
	CmdGetNumTracks: "GetNumTracks",
	CmdGetGeometry:  "GetGeometry",
	CmdRawRead:      "RawRead",
	CmdDeviceQuery:  "DeviceQuery",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Immediate reports whether c is in the always-immediate set of spec.md
// §4.4: executed in the caller's context regardless of worker state.
func (c Command) Immediate() bool {
	switch c {
	case CmdChangeNum, CmdChangeState, CmdGetDriveType, CmdGetNumTracks, CmdRemChangeInt, CmdDeviceQuery:
		return true
	default:
		return false
	}
}

// QuickCapable reports whether c may run in the caller's context when the
// client requests quick-mode (spec.md §4.4).
func (c Command) QuickCapable() bool {
	switch c {
	case CmdSeek, CmdProtStatus, CmdGetGeometry:
		return true
	default:
		return false
	}
}

// Mutating reports whether c changes unit state and must therefore run
// through the worker or under the unit lock (spec.md §5 ordering guarantees).
func (c Command) Mutating() bool {
	switch c {
	case CmdWrite, CmdFormat, CmdUpdate, CmdClear, CmdEject, CmdMotor:
		return true
	default:
		return false
	}
}

// DriveKind distinguishes double-density from high-density media (spec.md
// §4.2 media insert: "22→HD, 11→DD").
type DriveKind int

const (
	DriveDD DriveKind = iota
	DriveHD
)

func (k DriveKind) String() string {
	if k == DriveHD {
		return "HD"
	}
	return "DD"
}

// Geometry is the full drive geometry record returned by GetGeometry
// (spec.md §6).
type Geometry struct {
	SectorSize      int
	SectorsPerTrack int
	Cylinders       int
	Heads           int
	DiskSize        int64
	Kind            DriveKind
}

// DeviceQueryResult is the capability record returned by DeviceQuery.
type DeviceQueryResult struct {
	DeviceType    string
	DeviceSubType int
	MaxTransfer   int
	Mask          uint32
	DriveType     DriveKind
}

// ChangeListener is invoked synchronously from within the change-counter
// critical section (spec.md §4.2 "All listeners must be short and may not
// block").
type ChangeListener func()

// Request is the envelope queued by the router/worker and dispatched to an
// Engine. Extended requests (ETD_*) set Extended and Count for the
// staleness check against the change counter (spec.md §6).
type Request struct {
	Command  Command
	Extended bool
	Count    uint64

	Offset int64
	Length int64
	Data   []byte

	// MotorOn / WriteProtect carry the single-bit inputs of Motor and
	// control-queue write-protect toggles.
	MotorOn      bool
	WriteProtect bool

	// ListenerID identifies a previously registered AddChangeInt listener,
	// used by RemChangeInt to find the parked request.
	ListenerID uint64
	Listener   ChangeListener

	// QuickMode mirrors the client's quick-mode request bit (spec.md §4.4).
	QuickMode bool
}

// Result is Engine.Dispatch's reply. Only the fields relevant to Command
// are populated; Err is non-nil on failure.
type Result struct {
	Err    error
	Actual int64
	Data   []byte

	Geometry   Geometry
	DeviceInfo DeviceQueryResult

	// ListenerID is filled in on a successful AddChangeInt so the caller
	// can later issue a matching RemChangeInt.
	ListenerID uint64

	// Parked is true for a successful AddChangeInt: the listener stays
	// registered under ListenerID after this reply, until a matching
	// RemChangeInt or until the worker stops.
	Parked bool
}
