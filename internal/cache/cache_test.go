package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEntrySize = 64

func buf(b byte) []byte {
	p := make([]byte, testEntrySize)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	out := make([]byte, testEntrySize)
	assert.False(t, c.Lookup(1, 0, out))
}

func TestStoreThenLookupHits(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	in := buf(0xAA)
	c.Store(1, 3, in, Allocate)

	out := make([]byte, testEntrySize)
	require.True(t, c.Lookup(1, 3, out))
	assert.Equal(t, in, out)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	c.Store(1, 3, buf(0xAA), Allocate)
	c.Invalidate(1, 3)

	out := make([]byte, testEntrySize)
	assert.False(t, c.Lookup(1, 3, out))
}

func TestUpdateOnlyDoesNotAllocate(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	c.Store(1, 3, buf(0xAA), UpdateOnly)

	out := make([]byte, testEntrySize)
	assert.False(t, c.Lookup(1, 3, out))
	assert.Zero(t, c.Stat().BytesAllocated)
}

func TestInvalidateUnitDrainsOnlyThatUnit(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	c.Store(1, 0, buf(1), Allocate)
	c.Store(1, 1, buf(2), Allocate)
	c.Store(2, 0, buf(3), Allocate)

	c.InvalidateUnit(1)

	out := make([]byte, testEntrySize)
	assert.False(t, c.Lookup(1, 0, out))
	assert.False(t, c.Lookup(1, 1, out))
	assert.True(t, c.Lookup(2, 0, out))
}

// TestCachePromotion is modelled on spec.md §8 scenario 2: a cache of exactly
// 16 entries (protected_limit=11) stores tracks 0..15, looks each one up once
// (every hit promotes to protected, and overflow past 11 demotes protected
// LRU entries back to probationary), re-reads tracks 0..11, then checks that
// protected holds at most 11 entries and all 16 are still cached across the
// two segments.
func TestCachePromotion(t *testing.T) {
	c := New(testEntrySize, 16*testEntrySize)
	require.Equal(t, 11, c.protectedLimit)

	out := make([]byte, testEntrySize)
	for track := 0; track < 16; track++ {
		c.Store(1, track, buf(byte(track)), Allocate)
	}
	for track := 0; track < 16; track++ {
		assert.True(t, c.Lookup(1, track, out), "track %d should be a hit after store", track)
	}

	for track := 0; track <= 11; track++ {
		require.True(t, c.Lookup(1, track, out))
	}

	stat := c.Stat()
	assert.LessOrEqual(t, stat.ProtectedSize, 11)
	assert.Equal(t, 16, stat.ProtectedSize+stat.ProbationSize)
}

// TestChecksumRepair is spec.md §8 scenario 3: corrupting a cached payload
// byte causes the next lookup to report a miss and migrate the entry to the
// free list.
func TestChecksumRepair(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	c.Store(1, 0, buf(0xAA), Allocate)

	key := NewKey(1, 0)
	n := c.probTree.find(key)
	require.NotNil(t, n)
	n.payload[0] ^= 0xFF // corrupt in place via the test hook

	out := make([]byte, testEntrySize)
	assert.False(t, c.Lookup(1, 0, out))
	assert.Equal(t, 1, c.Stat().FreeSize)
}

func TestResizeBelowEightSlotsDisablesCache(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	c.Store(1, 0, buf(0xAA), Allocate)

	c.Resize(4 * testEntrySize)

	assert.Zero(t, c.Stat().MaxBytes)
	assert.Zero(t, c.Stat().ProtectedLimit)

	out := make([]byte, testEntrySize)
	assert.False(t, c.Lookup(1, 0, out))

	c.Store(1, 0, buf(0xAA), Allocate)
	assert.False(t, c.Lookup(1, 0, out), "cache disabled: store must be a no-op")
}

func TestTryReclaimReturnsNegativeOneWhenLockHeld(t *testing.T) {
	c := New(testEntrySize, 64*testEntrySize)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.EqualValues(t, -1, c.TryReclaim(0))
}

func TestAllocateRecyclesProbationaryLRUUnderPressure(t *testing.T) {
	// 12 entries give protected_limit = 8, so the cache stays enabled
	// (11 is the smallest size that does; spec.md §4.1 resize()).
	c := New(testEntrySize, 12*testEntrySize)
	for track := 0; track < 12; track++ {
		c.Store(1, track, buf(byte(track)), Allocate)
	}
	c.Store(1, 12, buf(12), Allocate) // must evict probationary LRU (track 0)

	out := make([]byte, testEntrySize)
	assert.False(t, c.Lookup(1, 0, out))
	assert.True(t, c.Lookup(1, 11, out))
}
