// Package worker implements the per-unit cooperative worker of spec.md
// §4.3: one goroutine per unit driven by three signal sources (an I/O
// queue, a control queue, and a periodic timer).
package worker

import (
	"sync"
	"time"

	"github.com/amigafs/trackdev/internal/trackio/deverr"
	"github.com/amigafs/trackdev/internal/trackio/log"
	"github.com/amigafs/trackdev/internal/trackio/proto"
	"github.com/amigafs/trackdev/internal/unit"
)

// ControlKind enumerates the control-queue commands of spec.md §4.3:
// "insert/eject/stop/write-protect/cache-toggle".
type ControlKind int

const (
	CtrlInsert ControlKind = iota
	CtrlEject
	CtrlStop
	CtrlSetWriteProtect
	CtrlSetCacheEnabled
)

// ControlRequest is one control-queue message.
type ControlRequest struct {
	Kind         ControlKind
	Path         string
	WriteProtect bool
	CacheEnabled bool
}

// IOEnvelope pairs a queued command Request with its reply channel.
type IOEnvelope struct {
	Req   *proto.Request
	Reply chan *proto.Result
}

type controlEnvelope struct {
	req   ControlRequest
	reply chan error
}

// Worker drives one Engine. Submit and SubmitControl may be called from
// any goroutine; Run must be started exactly once and owns the engine's
// queues until Stop completes.
type Worker struct {
	engine *unit.Engine

	ioQueue      chan *IOEnvelope
	controlQueue chan *controlEnvelope

	mu      sync.Mutex
	active  bool
	done    chan struct{}
	parked  map[uint64]struct{} // listener ids registered via AddChangeInt, tracked for Stop-time cleanup
}

// New builds a Worker over engine. The caller must start it with Run (in
// its own goroutine) before Submit/SubmitControl are used.
func New(engine *unit.Engine) *Worker {
	return &Worker{
		engine:       engine,
		ioQueue:      make(chan *IOEnvelope, 64),
		controlQueue: make(chan *controlEnvelope, 8),
		active:       true,
		done:         make(chan struct{}),
		parked:       make(map[uint64]struct{}),
	}
}

// Active reports whether the worker is still accepting I/O (false once
// Stop has completed); the router consults this for its inline fallback.
func (w *Worker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Submit enqueues req and blocks for its reply. Queued AddChangeInt
// requests still receive an immediate reply carrying the new ListenerID
// (see DESIGN.md: blocking a goroutine until a future RemChangeInt would
// leak it with no cancellation path, so "parked" is implemented as
// registration bookkeeping rather than a withheld reply).
func (w *Worker) Submit(req *proto.Request) *proto.Result {
	env := &IOEnvelope{Req: req, Reply: make(chan *proto.Result, 1)}
	w.ioQueue <- env
	return <-env.Reply
}

// SubmitControl enqueues a control-queue request and blocks for its error
// result.
func (w *Worker) SubmitControl(req ControlRequest) error {
	env := &controlEnvelope{req: req, reply: make(chan error, 1)}
	w.controlQueue <- env
	return <-env.reply
}

// Run is the worker's main loop (spec.md §4.3). It returns once Stop has
// drained the I/O queue.
func (w *Worker) Run() {
	ticker := time.NewTicker(unit.MotorIdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case env := <-w.controlQueue:
			stop := w.handleControl(env)
			if stop {
				w.drainIOAborted()
				close(w.done)
				return
			}
		case env := <-w.ioQueue:
			w.handleIO(env)
		case <-ticker.C:
			w.engine.TickMotorTimeout()
		}
	}
}

// Done is closed once the worker has fully stopped.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) handleIO(env *IOEnvelope) {
	if !w.Active() {
		// The envelope has already left the queue, so Stop's drain step
		// cannot see it; answer it Aborted here, as the drain does for the
		// requests still queued.
		env.Reply <- &proto.Result{Err: deverr.ErrAborted}
		return
	}
	result := w.engine.Dispatch(env.Req)
	if env.Req.Command == proto.CmdAddChangeInt && result.Err == nil {
		w.mu.Lock()
		w.parked[result.ListenerID] = struct{}{}
		w.mu.Unlock()
	}
	env.Reply <- result
}

func (w *Worker) handleControl(env *controlEnvelope) (stop bool) {
	switch env.req.Kind {
	case CtrlInsert:
		env.reply <- w.engine.InsertMedia(env.req.Path, env.req.WriteProtect)
	case CtrlEject:
		env.reply <- w.engine.Eject()
	case CtrlSetWriteProtect:
		env.reply <- w.engine.SetWriteProtect(env.req.WriteProtect)
	case CtrlSetCacheEnabled:
		w.engine.SetCacheEnabled(env.req.CacheEnabled)
		env.reply <- nil
	case CtrlStop:
		if err := w.engine.CanStop(); err != nil {
			env.reply <- err
			return false
		}
		w.mu.Lock()
		w.active = false
		w.mu.Unlock()
		env.reply <- nil
		return true
	default:
		env.reply <- deverr.ErrNoCommand
	}
	return false
}

// drainIOAborted replies Aborted to every request left on the I/O queue
// and releases any still-parked AddChangeInt listeners (spec.md §4.3
// "after draining/releasing remaining queued I/O by replying Aborted").
func (w *Worker) drainIOAborted() {
	for {
		select {
		case env := <-w.ioQueue:
			env.Reply <- &proto.Result{Err: deverr.ErrAborted}
		default:
			w.mu.Lock()
			for id := range w.parked {
				w.engine.RemoveChangeListener(id)
				delete(w.parked, id)
			}
			w.mu.Unlock()
			log.Infof(w.engine, "worker stopped, I/O queue drained")
			return
		}
	}
}
