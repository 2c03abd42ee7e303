// Package deverr defines the closed error taxonomy of spec.md §7 as sentinel
// errors, in the teacher's style of typed sentinels tested with errors.Is
// (see backend/local and backend/cache's fs.Error* values).
package deverr

import "errors"

var (
	// ErrNoMedia is returned when a command requiring media finds none.
	ErrNoMedia = errors.New("trackdev: no media")
	// ErrDiskChanged is returned for a stale extended request or a backend
	// report of media removal.
	ErrDiskChanged = errors.New("trackdev: disk changed")
	// ErrWriteProtected is returned for a write attempted on a read-only medium.
	ErrWriteProtected = errors.New("trackdev: write protected")
	// ErrBadAddress is returned when an offset or buffer pointer fails alignment
	// or bounds validation.
	ErrBadAddress = errors.New("trackdev: bad address")
	// ErrBadLength is returned when a length fails alignment or bounds validation.
	ErrBadLength = errors.New("trackdev: bad length")
	// ErrNoSectorHeader is returned on a seek/read failure against the backend.
	ErrNoSectorHeader = errors.New("trackdev: no sector header")
	// ErrBadSectorHeader is returned when a sector header read is corrupt.
	ErrBadSectorHeader = errors.New("trackdev: bad sector header")
	// ErrSeekError is returned for a write failure not otherwise classifiable.
	ErrSeekError = errors.New("trackdev: seek error")
	// ErrAborted is returned for a request removed from a queue before execution.
	ErrAborted = errors.New("trackdev: aborted")
	// ErrNoCommand is returned for an unsupported command or a command routed
	// to the wrong device.
	ErrNoCommand = errors.New("trackdev: no such command")
	// ErrDriveInUse is returned when a control operation is blocked because the
	// motor is running or writes are pending.
	ErrDriveInUse = errors.New("trackdev: drive in use")
	// ErrReadOnlyVolume is returned when write-protection cannot be cleared
	// because the filesystem volume itself demands it.
	ErrReadOnlyVolume = errors.New("trackdev: read-only volume")
	// ErrReadOnlyFile is returned when write-protection cannot be cleared
	// because the backing image file is read-only.
	ErrReadOnlyFile = errors.New("trackdev: read-only file")
)
