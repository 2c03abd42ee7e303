package unit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amigafs/trackdev/internal/backend/faketest"
	"github.com/amigafs/trackdev/internal/cache"
	"github.com/amigafs/trackdev/internal/trackio/deverr"
)

func ddImageSize() int64 { return imageSize(DDSectorsPerTrack) }

func newTestEngine(t *testing.T, img *faketest.Image) *Engine {
	t.Helper()
	c := cache.New(DDSectorsPerTrack*SectorSize, 64*int64(DDSectorsPerTrack*SectorSize))
	e := New(Config{
		UnitID:       1,
		Opener:       faketest.Opener(img),
		Classify:     faketest.ClassifyFake,
		Cache:        c,
		CacheEnabled: true,
	})
	require.NoError(t, e.InsertMedia("fake.adf", false))
	return e
}

// TestReadModifyWriteRoundTrip is spec.md §8 scenario 1.
func TestReadModifyWriteRoundTrip(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	want := make([]byte, 512)
	for i := range want {
		want[i] = 0xAA
	}
	_, err := e.Write(0, 512, want, false, 0)
	require.NoError(t, err)

	got := make([]byte, 512)
	_, err = e.Read(0, 512, got, false, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, e.Update(false, 0))
	require.NoError(t, e.Eject())

	assert.Equal(t, byte(0xAA), img.Data[0])
	assert.Equal(t, byte(0xAA), img.Data[511])
}

// TestStaleExtendedCommand is spec.md §8 scenario 4.
func TestStaleExtendedCommand(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	staleCount := e.ChangeNum()

	require.NoError(t, e.Eject())
	require.NoError(t, e.InsertMedia("fake.adf", false))

	out := make([]byte, 512)
	_, err := e.Read(0, 512, out, true, staleCount)
	assert.ErrorIs(t, err, deverr.ErrDiskChanged)
}

// TestStaleExtendedCommandsOnOtherOperations extends scenario 4 to the
// extended Clear, Update, Seek, Motor and RawRead commands (spec.md §6: all
// extended variants must fail with DiskChanged against a stale change
// counter).
func TestStaleExtendedCommandsOnOtherOperations(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)
	staleCount := e.ChangeNum()
	require.NoError(t, e.Eject())
	require.NoError(t, e.InsertMedia("fake.adf", false))

	t.Run("Clear", func(t *testing.T) {
		assert.ErrorIs(t, e.Clear(true, staleCount), deverr.ErrDiskChanged)
	})
	t.Run("Update", func(t *testing.T) {
		assert.ErrorIs(t, e.Update(true, staleCount), deverr.ErrDiskChanged)
	})
	t.Run("Seek", func(t *testing.T) {
		assert.ErrorIs(t, e.Seek(0, true, staleCount), deverr.ErrDiskChanged)
	})
	t.Run("Motor", func(t *testing.T) {
		_, err := e.Motor(true, true, staleCount)
		assert.ErrorIs(t, err, deverr.ErrDiskChanged)
	})
	t.Run("RawRead", func(t *testing.T) {
		out := make([]byte, e.mfmCtx.EncodedSize())
		_, err := e.RawRead(0, out, int64(len(out)), true, staleCount)
		assert.ErrorIs(t, err, deverr.ErrDiskChanged)
	})
}

// TestRawRead covers the MFM-encoded track path end to end (spec.md §6
// "RawRead"), previously untested anywhere in the suite.
func TestRawRead(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	encodedSize := e.mfmCtx.EncodedSize()
	out := make([]byte, encodedSize)
	n, err := e.RawRead(0, out, int64(encodedSize), false, 0)
	require.NoError(t, err)
	assert.Equal(t, encodedSize, n)
}

func TestRawReadRejectsLengthAbove32768(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	out := make([]byte, 32769)
	_, err := e.RawRead(0, out, 32769, false, 0)
	assert.ErrorIs(t, err, deverr.ErrBadLength)
}

func TestRawReadRejectsBufferSmallerThanEncodedTrack(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	short := e.mfmCtx.EncodedSize() - 1
	out := make([]byte, short)
	_, err := e.RawRead(0, out, int64(short), false, 0)
	assert.ErrorIs(t, err, deverr.ErrBadLength)
}

// TestWriteBackOnTrackChange is spec.md §8 scenario 5: writing to track 5
// without Update, then reading from track 6, must flush track 5 to the
// backend before the track-6 read happens.
func TestWriteBackOnTrackChange(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	trackSize := int64(DDSectorsPerTrack * SectorSize)
	payload := make([]byte, trackSize)
	for i := range payload {
		payload[i] = 0x5A
	}
	_, err := e.Write(5*trackSize, trackSize, payload, false, 0)
	require.NoError(t, err)

	out := make([]byte, SectorSize)
	_, err = e.Read(6*trackSize, SectorSize, out, false, 0)
	require.NoError(t, err)

	require.Len(t, img.WriteAtCalls, 1)
	assert.Equal(t, 5*trackSize, img.WriteAtCalls[0][0])

	for i := int64(0); i < trackSize; i++ {
		assert.Equal(t, byte(0x5A), img.Data[5*trackSize+i])
	}
}

// TestMotorTimeout is spec.md §8 scenario 6: after 6s idle the motor flag
// clears exactly once and current-track becomes invalid.
func TestMotorTimeout(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	out := make([]byte, SectorSize)
	_, err := e.Read(0, SectorSize, out, false, 0)
	require.NoError(t, err)

	e.mu.Lock()
	require.True(t, e.motorOn)
	e.lastActivity = time.Now().Add(-6 * time.Second)
	e.mu.Unlock()

	e.TickMotorTimeout()
	e.mu.Lock()
	motorAfterFirstTick := e.motorOn
	e.mu.Unlock()
	assert.False(t, motorAfterFirstTick)
	assert.Equal(t, StateIdle, e.State())

	// A second tick must be a no-op: the motor already cleared once.
	e.TickMotorTimeout()
	e.mu.Lock()
	motorAfterSecondTick := e.motorOn
	e.mu.Unlock()
	assert.False(t, motorAfterSecondTick)
}

func TestWriteRejectedWhenWriteProtected(t *testing.T) {
	img := faketest.New(ddImageSize())
	img.Protected = true
	e := newTestEngine(t, img)

	_, err := e.Write(0, 512, make([]byte, 512), false, 0)
	assert.ErrorIs(t, err, deverr.ErrWriteProtected)
}

func TestChangeListenerFiresOnEject(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)

	fired := false
	e.AddChangeListener(func() { fired = true })

	require.NoError(t, e.Eject())
	assert.True(t, fired)
}

func TestRemovedMediaClassificationSynthesizesEject(t *testing.T) {
	img := faketest.New(ddImageSize())
	e := newTestEngine(t, img)
	img.FailWrite = faketest.ErrRemoved

	payload := make([]byte, SectorSize)
	_, err := e.Write(0, SectorSize, payload, false, 0)
	require.NoError(t, err) // write itself loads the track and marks it dirty; no backend write yet

	_, err = e.Read(int64(DDSectorsPerTrack)*SectorSize, SectorSize, make([]byte, SectorSize), false, 0)
	assert.ErrorIs(t, err, deverr.ErrDiskChanged)
	assert.False(t, e.ChangeState())
}
