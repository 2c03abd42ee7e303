// Package cache implements the shared two-segment (SLRU) track cache
// described in spec.md §4.1: a splay tree per segment for O(log n) lookup,
// two doubly-linked LRU lists (probationary, protected), a free list, and
// per-unit back-reference lists for O(#entries) unit invalidation.
package cache

import (
	"sync"

	"github.com/amigafs/trackdev/internal/checksum"
	"github.com/amigafs/trackdev/internal/trackio/log"
)

// StoreMode selects store's behavior when the key is absent.
type StoreMode int

const (
	// Allocate inserts a new entry (reclaiming one if necessary) when the
	// key is not already present.
	Allocate StoreMode = iota
	// UpdateOnly is a no-op when the key is not already present.
	UpdateOnly
)

// Cache is the shared track cache. One instance is owned by the device
// supervisor and shared across all units; every public method takes the
// single lock, matching spec.md §4.1 "under a global lock".
type Cache struct {
	mu sync.Mutex

	entrySize      int
	maxBytes       int64
	bytesAllocated int64

	protectedLimit int
	protectedSize  int

	probTree, protTree splayTree
	probList, protList segList
	freeList           segList

	units map[uint32]*unitList

	arena []*entry // every entry ever allocated, for Resize accounting
}

// New creates a Cache sized for maxBytes, with entrySize bytes of payload
// per entry (the per-unit track size).
func New(entrySize int, maxBytes int64) *Cache {
	c := &Cache{
		entrySize: entrySize,
		units:     make(map[uint32]*unitList),
	}
	c.applyLimits(maxBytes)
	return c
}

// maxNodes returns how many whole entries fit in maxBytes.
func (c *Cache) maxNodesLocked(maxBytes int64) int {
	if c.entrySize <= 0 {
		return 0
	}
	return int(maxBytes / int64(c.entrySize))
}

// applyLimits recomputes maxBytes/protectedLimit, disabling the cache
// (protected_limit forced to 0, max_bytes forced to 0) when protected_limit
// would fall below 8, i.e. when fewer than 11 whole entries fit, per
// spec.md §4.1 resize().
func (c *Cache) applyLimits(maxBytes int64) {
	nodes := c.maxNodesLocked(maxBytes)
	limit := (nodes*2 + 2) / 3 // ceil(nodes*2/3)
	if limit < 8 {
		c.maxBytes = 0
		c.protectedLimit = 0
		return
	}
	c.maxBytes = int64(nodes) * int64(c.entrySize)
	c.protectedLimit = limit
}

func (c *Cache) unitList(unitID uint32) *unitList {
	l, ok := c.units[unitID]
	if !ok {
		l = &unitList{}
		c.units[unitID] = l
	}
	return l
}

// Lookup implements spec.md §4.1 lookup(). It returns a copy of the track
// payload on a verified hit.
func (c *Cache) Lookup(unitID uint32, track int, out []byte) (hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := NewKey(unitID, track)

	if n := c.protTree.find(key); n != nil {
		c.protList.moveToMRU(n)
		return c.verifyAndCopy(n, out)
	}

	n := c.probTree.find(key)
	if n == nil {
		return false
	}

	c.probList.remove(n)
	c.probTree.remove(n)

	n.segment = segProtected
	c.protTree.insert(n)
	c.protList.pushMRU(n)
	c.protectedSize++
	c.rebalanceProtected()

	return c.verifyAndCopy(n, out)
}

// verifyAndCopy checks n's Fletcher checksum before exposing its payload;
// on mismatch it invalidates n in place and reports a miss, per spec.md
// §4.1 edge case "checksum mismatch on lookup triggers invalidation".
func (c *Cache) verifyAndCopy(n *entry, out []byte) bool {
	if checksum.Of(n.payload) != n.checksum {
		log.Errorf(nil, "cache: checksum mismatch for key %d, invalidating", n.key)
		c.unlinkAndFree(n)
		return false
	}
	copy(out, n.payload)
	return true
}

// rebalanceProtected evicts protected LRU entries down to probationary MRU
// until protected_size ≤ protected_limit (spec.md §4.1 step 2).
func (c *Cache) rebalanceProtected() {
	for c.protectedSize > c.protectedLimit {
		n := c.protList.popLRU()
		if n == nil {
			return
		}
		c.protTree.remove(n)
		c.protectedSize--
		n.segment = segProbation
		c.probTree.insert(n)
		c.probList.pushMRU(n)
	}
}

// Store implements spec.md §4.1 store(). buf must be entrySize bytes.
func (c *Cache) Store(unitID uint32, track int, buf []byte, mode StoreMode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes == 0 {
		return // cache disabled
	}

	key := NewKey(unitID, track)

	if n := c.protTree.find(key); n != nil {
		c.refresh(n, buf)
		return
	}
	if n := c.probTree.find(key); n != nil {
		c.refresh(n, buf)
		return
	}

	if mode == UpdateOnly {
		return
	}

	n := c.takeNodeForAllocate(unitID)
	if n == nil {
		return // allocation failed (should not happen once limits are sane)
	}
	n.key = key
	n.unitID = unitID
	copy(n.payload, buf)
	n.checksum = checksum.Of(n.payload)
	n.segment = segProbation

	c.probTree.insert(n)
	c.probList.pushMRU(n)
	c.unitList(unitID).push(n)
}

func (c *Cache) refresh(n *entry, buf []byte) {
	copy(n.payload, buf)
	n.checksum = checksum.Of(n.payload)
}

// takeNodeForAllocate implements store()'s Allocate path: free list, then
// fresh allocation within budget, then recycling probationary LRU or
// protected LRU (spec.md §4.1 store() steps 1-3).
func (c *Cache) takeNodeForAllocate(unitID uint32) *entry {
	if n := c.freeList.popLRU(); n != nil {
		return n
	}

	if c.bytesAllocated+int64(c.entrySize) <= c.maxBytes {
		n := newEntry(c.entrySize)
		c.arena = append(c.arena, n)
		c.bytesAllocated += int64(c.entrySize)
		return n
	}

	if n := c.probList.popLRU(); n != nil {
		c.probTree.remove(n)
		c.detachFromUnit(n)
		return n
	}
	if n := c.protList.popLRU(); n != nil {
		c.protTree.remove(n)
		c.protectedSize--
		c.detachFromUnit(n)
		return n
	}
	return nil
}

func (c *Cache) detachFromUnit(n *entry) {
	if l, ok := c.units[n.unitID]; ok {
		l.remove(n)
	}
}

// treeFor returns the splay tree n currently belongs to.
func (c *Cache) treeFor(n *entry) *splayTree {
	if n.segment == segProtected {
		return &c.protTree
	}
	return &c.probTree
}

// listFor returns the segList n currently belongs to.
func (c *Cache) listFor(n *entry) *segList {
	if n.segment == segProtected {
		return &c.protList
	}
	return &c.probList
}

// unlinkAndFree removes n from its tree, segment list and unit back-reference
// list, and pushes it onto the free list.
func (c *Cache) unlinkAndFree(n *entry) {
	c.treeFor(n).remove(n)
	c.listFor(n).remove(n)
	if n.segment == segProtected {
		c.protectedSize--
	}
	c.detachFromUnit(n)
	n.segment = segFree
	n.checksum = 0
	c.freeList.pushMRU(n)
}

// Invalidate implements spec.md §4.1 invalidate(key).
func (c *Cache) Invalidate(unitID uint32, track int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := NewKey(unitID, track)
	if n := c.protTree.find(key); n != nil {
		c.unlinkAndFree(n)
		return
	}
	if n := c.probTree.find(key); n != nil {
		c.unlinkAndFree(n)
	}
}

// InvalidateUnit implements spec.md §4.1 invalidate_unit(unit_id): drains
// the unit's back-reference list in O(#entries_for_unit).
func (c *Cache) InvalidateUnit(unitID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.units[unitID]
	if !ok {
		return
	}
	for n := l.head; n != nil; {
		next := n.unitNext
		c.treeFor(n).remove(n)
		c.listFor(n).remove(n)
		if n.segment == segProtected {
			c.protectedSize--
		}
		n.segment = segFree
		n.checksum = 0
		n.unitPrev, n.unitNext = nil, nil
		n.inUnitList = false
		c.freeList.pushMRU(n)
		n = next
	}
	l.head, l.tail, l.size = nil, nil, 0
}

// TryReclaim implements spec.md §4.1 try_reclaim(bytes): a non-blocking,
// non-reentrant memory-pressure hook. It returns the number of bytes freed,
// or -1 if the lock was already held (the spec's "did nothing").
func (c *Cache) TryReclaim(target int64) int64 {
	if !c.mu.TryLock() {
		return -1
	}
	defer c.mu.Unlock()

	var freed int64
	for c.bytesAllocated > target {
		var n *entry
		switch {
		case c.freeList.size > 0:
			n = c.freeList.popLRU()
			c.bytesAllocated -= int64(c.entrySize)
			freed += int64(c.entrySize)
			continue
		case c.probList.size > 0:
			n = c.probList.popLRU()
			c.probTree.remove(n)
		case c.protList.size > 0:
			n = c.protList.popLRU()
			c.protTree.remove(n)
			c.protectedSize--
		default:
			return freed
		}
		c.detachFromUnit(n)
		c.bytesAllocated -= int64(c.entrySize)
		freed += int64(c.entrySize)
	}
	return freed
}

// Resize implements spec.md §4.1 resize(new_max): round to a whole number
// of entries, recompute protected_limit, and reclaim down to the new limit
// (or drop everything if the cache becomes too small to be useful).
func (c *Cache) Resize(newMax int64) {
	c.mu.Lock()

	nodes := c.maxNodesLocked(newMax)
	limit := (nodes*2 + 2) / 3
	if limit < 8 {
		c.dropEverythingLocked()
		c.maxBytes = 0
		c.protectedLimit = 0
		c.mu.Unlock()
		return
	}

	c.maxBytes = int64(nodes) * int64(c.entrySize)
	c.protectedLimit = limit
	c.mu.Unlock()

	for {
		if c.TryReclaim(c.maxBytes) != -1 {
			return
		}
	}
}

// dropEverythingLocked frees every allocated entry; callers must hold mu.
func (c *Cache) dropEverythingLocked() {
	for _, l := range c.units {
		l.head, l.tail, l.size = nil, nil, 0
	}
	c.probTree = splayTree{}
	c.protTree = splayTree{}
	c.probList = segList{}
	c.protList = segList{}
	c.freeList = segList{}
	c.protectedSize = 0
	c.bytesAllocated = 0
	c.arena = nil
}

// Stats reports a point-in-time snapshot for diagnostics (spec.md §9's
// per-unit/cache stats supplement).
type Stats struct {
	MaxBytes       int64
	BytesAllocated int64
	ProtectedLimit int
	ProtectedSize  int
	ProbationSize  int
	FreeSize       int
}

func (c *Cache) Stat() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		MaxBytes:       c.maxBytes,
		BytesAllocated: c.bytesAllocated,
		ProtectedLimit: c.protectedLimit,
		ProtectedSize:  c.protectedSize,
		ProbationSize:  c.probList.size,
		FreeSize:       c.freeList.size,
	}
}
