package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amigafs/trackdev/internal/backend/faketest"
	"github.com/amigafs/trackdev/internal/cache"
	"github.com/amigafs/trackdev/internal/trackio/deverr"
	"github.com/amigafs/trackdev/internal/trackio/proto"
	"github.com/amigafs/trackdev/internal/unit"
	"github.com/amigafs/trackdev/internal/worker"
)

func newTestEngine(t *testing.T) *unit.Engine {
	t.Helper()
	img := faketest.New(11 * 512 * 80 * 2)
	e := unit.New(unit.Config{
		UnitID:   1,
		Opener:   faketest.Opener(img),
		Classify: faketest.ClassifyFake,
		Cache:    cache.New(11*512, 64*11*512),
	})
	require.NoError(t, e.InsertMedia("fake.adf", false))
	return e
}

func TestWrongDeviceIDReturnsNoCommand(t *testing.T) {
	r := New("trackdev0")
	e := newTestEngine(t)

	result := r.Dispatch("other-device", Target{Engine: e}, &proto.Request{Command: proto.CmdChangeNum})
	assert.ErrorIs(t, result.Err, deverr.ErrNoCommand)
}

func TestImmediateCommandRunsWithNoWorker(t *testing.T) {
	r := New("trackdev0")
	e := newTestEngine(t)

	result := r.Dispatch("trackdev0", Target{Engine: e}, &proto.Request{Command: proto.CmdGetNumTracks})
	require.NoError(t, result.Err)
	assert.EqualValues(t, unit.Cylinders, result.Actual)
}

func TestQueuedCommandFallsBackInlineWithoutWorker(t *testing.T) {
	r := New("trackdev0")
	e := newTestEngine(t)

	result := r.Dispatch("trackdev0", Target{Engine: e}, &proto.Request{Command: proto.CmdRead, Offset: 0, Length: 512})
	require.NoError(t, result.Err)
	assert.Len(t, result.Data, 512)
}

func TestQueuedCommandGoesThroughActiveWorker(t *testing.T) {
	r := New("trackdev0")
	e := newTestEngine(t)
	w := worker.New(e)
	go w.Run()

	result := r.Dispatch("trackdev0", Target{Engine: e, Worker: w}, &proto.Request{Command: proto.CmdRead, Offset: 0, Length: 512})
	require.NoError(t, result.Err)
	assert.Len(t, result.Data, 512)
}

func TestQuickModeRunsInlineEvenWithActiveWorker(t *testing.T) {
	r := New("trackdev0")
	e := newTestEngine(t)
	w := worker.New(e)
	go w.Run()

	result := r.Dispatch("trackdev0", Target{Engine: e, Worker: w}, &proto.Request{Command: proto.CmdSeek, Offset: 0, QuickMode: true})
	assert.NoError(t, result.Err)
}

func TestUnsupportedCommandIsNoCommand(t *testing.T) {
	r := New("trackdev0")
	e := newTestEngine(t)

	result := r.Dispatch("trackdev0", Target{Engine: e}, &proto.Request{Command: proto.Command(999)})
	assert.ErrorIs(t, result.Err, deverr.ErrNoCommand)
}
