// Package supervisor implements the Device Supervisor of spec.md §2/§3: it
// maintains the unit registry, creates and destroys units, owns the single
// shared cache instance, and arbitrates shutdown. The registry shape is
// grounded on the teacher's backend/union upstream registry, which indexes
// multiple backing Fs by name the same way Supervisor indexes units by a
// numeric id.
package supervisor

import (
	"fmt"
	"sync"

	"github.com/amigafs/trackdev/internal/backend"
	"github.com/amigafs/trackdev/internal/cache"
	"github.com/amigafs/trackdev/internal/router"
	"github.com/amigafs/trackdev/internal/trackio/config"
	"github.com/amigafs/trackdev/internal/trackio/log"
	"github.com/amigafs/trackdev/internal/unit"
	"github.com/amigafs/trackdev/internal/worker"
)

// Unit bundles one unit's engine, worker, and routing target together.
type Unit struct {
	Engine *unit.Engine
	Worker *worker.Worker
}

// Supervisor owns the shared cache and the live unit registry. One device
// id identifies the whole set of units to the router.
type Supervisor struct {
	deviceID string
	router   *router.Router
	opener   backend.Opener
	classify func(error) backend.Kind

	mu    sync.Mutex
	cache *cache.Cache
	units map[uint32]*Unit
}

// New constructs a Supervisor. opener/classify select the backend (normally
// backend.Open/backend.Classify; tests substitute faketest).
func New(deviceID string, opener backend.Opener, classify func(error) backend.Kind, cacheOpt config.CacheOptions) *Supervisor {
	return &Supervisor{
		deviceID: deviceID,
		router:   router.New(deviceID),
		opener:   opener,
		classify: classify,
		cache:    cache.New(cacheEntrySize(), cacheOpt.MaxBytes),
		units:    make(map[uint32]*Unit),
	}
}

// cacheEntrySize is sized for the larger of DD/HD tracks so the shared
// cache's entries can hold either (HD tracks are never actually cached,
// per spec.md §4.2, but a single entry size keeps the cache simple).
func cacheEntrySize() int {
	return unit.HDSectorsPerTrack * unit.SectorSize
}

// OpenUnit creates (or returns the existing) unit numbered id, starting its
// worker goroutine on first creation.
func (s *Supervisor) OpenUnit(id uint32) *Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.units[id]; ok {
		return u
	}

	e := unit.New(unit.Config{
		UnitID:       id,
		Opener:       s.opener,
		Classify:     s.classify,
		Cache:        s.cache,
		CacheEnabled: true,
	})
	w := worker.New(e)
	go w.Run()

	u := &Unit{Engine: e, Worker: w}
	s.units[id] = u
	log.Infof(nil, "unit %d registered", id)
	return u
}

// Unit returns the unit numbered id, or nil if it has not been opened.
func (s *Supervisor) Unit(id uint32) *Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[id]
}

// Target builds a router.Target for unit id, or an error if it does not
// exist.
func (s *Supervisor) Target(id uint32) (router.Target, error) {
	u := s.Unit(id)
	if u == nil {
		return router.Target{}, fmt.Errorf("trackdev: unit %d not registered", id)
	}
	return router.Target{Engine: u.Engine, Worker: u.Worker}, nil
}

// Router returns the shared command router; callers pass DeviceID through
// to Dispatch to get the §4.4 device-identity check.
func (s *Supervisor) Router() *router.Router { return s.router }

// DeviceID returns the identity this supervisor's units are addressed
// under.
func (s *Supervisor) DeviceID() string { return s.deviceID }

// CacheStats exposes the shared cache's diagnostic snapshot.
func (s *Supervisor) CacheStats() cache.Stats {
	s.mu.Lock()
	c := s.cache
	s.mu.Unlock()
	return c.Stat()
}

// ResizeCache implements the memory-pressure-driven cache resize hook any
// host supervisor can drive (spec.md §2 "Host-specific memory-low
// notifications; the cache exposes a try_reclaim(bytes) hook").
func (s *Supervisor) ResizeCache(maxBytes int64) {
	s.mu.Lock()
	c := s.cache
	s.mu.Unlock()
	c.Resize(maxBytes)
}

// CloseUnit ejects any inserted media, stops the unit's worker, and removes
// it from the registry. Stop requires absence of media (spec.md §4.3), so
// eject always runs first; the unit is only removed from the registry once
// its worker has actually stopped, so a failed stop never leaks an
// unreachable goroutine.
func (s *Supervisor) CloseUnit(id uint32) error {
	u := s.Unit(id)
	if u == nil {
		return fmt.Errorf("trackdev: unit %d not registered", id)
	}

	if u.Worker != nil && u.Worker.Active() {
		if err := u.Worker.SubmitControl(worker.ControlRequest{Kind: worker.CtrlEject}); err != nil {
			return err
		}
		if err := u.Worker.SubmitControl(worker.ControlRequest{Kind: worker.CtrlStop}); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.units, id)
	s.mu.Unlock()
	return nil
}

// Shutdown tears down every unit and always drops the shared cache,
// deliberately avoiding the source's noted defect of only deleting the
// cache context when it was already nil (spec.md §9 open question).
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]uint32, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.CloseUnit(id)
	}

	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
	log.Infof(nil, "supervisor shut down")
}
