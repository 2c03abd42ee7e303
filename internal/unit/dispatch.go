package unit

import (
	"github.com/amigafs/trackdev/internal/trackio/deverr"
	"github.com/amigafs/trackdev/internal/trackio/proto"
)

// Dispatch implements spec.md §4.5: routes a queued or inline-executed
// Request to the matching Engine operation and packages its result. The
// worker and the router's inline fallback both call this so the two paths
// share identical validation and state-transition discipline.
func (e *Engine) Dispatch(req *proto.Request) *proto.Result {
	switch req.Command {
	case proto.CmdClear:
		return &proto.Result{Err: e.Clear(req.Extended, req.Count)}

	case proto.CmdRead:
		out := make([]byte, req.Length)
		n, err := e.Read(req.Offset, req.Length, out, req.Extended, req.Count)
		return &proto.Result{Err: err, Actual: n, Data: out[:n]}

	case proto.CmdWrite:
		n, err := e.Write(req.Offset, req.Length, req.Data, req.Extended, req.Count)
		return &proto.Result{Err: err, Actual: n}

	case proto.CmdFormat:
		n, err := e.Format(req.Offset, req.Length, req.Data, req.Extended, req.Count)
		return &proto.Result{Err: err, Actual: n}

	case proto.CmdUpdate:
		return &proto.Result{Err: e.Update(req.Extended, req.Count)}

	case proto.CmdSeek:
		return &proto.Result{Err: e.Seek(req.Offset, req.Extended, req.Count)}

	case proto.CmdMotor:
		prev, err := e.Motor(req.MotorOn, req.Extended, req.Count)
		return &proto.Result{Err: err, Actual: boolToActual(prev)}

	case proto.CmdEject:
		return &proto.Result{Err: e.Eject()}

	case proto.CmdChangeState:
		if e.ChangeState() {
			return &proto.Result{Actual: 0}
		}
		return &proto.Result{Actual: 1}

	case proto.CmdChangeNum:
		return &proto.Result{Actual: int64(e.ChangeNum())}

	case proto.CmdAddChangeInt:
		id := e.AddChangeListener(req.Listener)
		return &proto.Result{ListenerID: id, Parked: true}

	case proto.CmdRemChangeInt:
		e.RemoveChangeListener(req.ListenerID)
		return &proto.Result{}

	case proto.CmdRemove:
		e.SetLegacyListener(req.Listener)
		return &proto.Result{}

	case proto.CmdProtStatus:
		return &proto.Result{Actual: boolToActual(e.ProtStatus())}

	case proto.CmdGetDriveType:
		return &proto.Result{Actual: int64(e.GetDriveType())}

	case proto.CmdGetNumTracks:
		return &proto.Result{Actual: int64(e.GetNumTracks())}

	case proto.CmdGetGeometry:
		return &proto.Result{Geometry: e.GetGeometry()}

	case proto.CmdRawRead:
		out := make([]byte, req.Length)
		n, err := e.RawRead(int(req.Offset), out, req.Length, req.Extended, req.Count)
		return &proto.Result{Err: err, Actual: int64(n), Data: out[:n]}

	case proto.CmdDeviceQuery:
		return &proto.Result{DeviceInfo: e.DeviceQuery()}

	default:
		return &proto.Result{Err: deverr.ErrNoCommand}
	}
}

func boolToActual(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
