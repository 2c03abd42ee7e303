// Package router implements the command router of spec.md §4.4: given a
// request and its target unit, decide whether to execute it immediately in
// the caller's context, hand it to the unit's worker, or fall back to
// inline execution when no worker is active.
package router

import (
	"github.com/amigafs/trackdev/internal/trackio/deverr"
	"github.com/amigafs/trackdev/internal/trackio/proto"
	"github.com/amigafs/trackdev/internal/unit"
	"github.com/amigafs/trackdev/internal/worker"
)

// Target bundles the engine and (optional) worker a request is routed to.
// Worker is nil when the unit has no active worker; Router then executes
// every command inline against Engine, under Engine's own lock.
type Target struct {
	Engine *unit.Engine
	Worker *worker.Worker // nil if no active worker
}

// Router dispatches requests against a fixed set of known devices, mirroring
// spec.md §4.4's "request's device pointer does not match this device"
// check via the caller-supplied deviceID matching.
type Router struct {
	deviceID string
}

// New builds a Router that only accepts requests whose DeviceID matches id.
func New(id string) *Router {
	return &Router{deviceID: id}
}

// Dispatch implements spec.md §4.4. deviceID is the request's claimed
// device identity; it must equal the Router's own id or NoCommand is
// returned without touching the unit.
func (r *Router) Dispatch(deviceID string, target Target, req *proto.Request) *proto.Result {
	if deviceID != r.deviceID || !supported(req.Command) {
		return &proto.Result{Err: deverr.ErrNoCommand}
	}

	switch {
	case req.Command.Immediate():
		return target.Engine.Dispatch(req)

	case req.QuickMode && req.Command.QuickCapable():
		return target.Engine.Dispatch(req)

	default:
		req.QuickMode = false
		if target.Worker != nil && target.Worker.Active() {
			return target.Worker.Submit(req)
		}
		// No active worker: execute inline so the request never hangs
		// (spec.md §4.4 "execute inline as a fallback").
		return target.Engine.Dispatch(req)
	}
}

func supported(c proto.Command) bool {
	switch c {
	case proto.CmdClear, proto.CmdRead, proto.CmdWrite, proto.CmdUpdate, proto.CmdFormat,
		proto.CmdSeek, proto.CmdMotor, proto.CmdEject, proto.CmdChangeState, proto.CmdChangeNum,
		proto.CmdAddChangeInt, proto.CmdRemChangeInt, proto.CmdRemove, proto.CmdProtStatus,
		proto.CmdGetDriveType, proto.CmdGetNumTracks, proto.CmdGetGeometry, proto.CmdRawRead,
		proto.CmdDeviceQuery:
		return true
	default:
		return false
	}
}
