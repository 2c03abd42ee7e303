package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amigafs/trackdev/internal/backend/faketest"
	"github.com/amigafs/trackdev/internal/cache"
	"github.com/amigafs/trackdev/internal/trackio/deverr"
	"github.com/amigafs/trackdev/internal/trackio/proto"
	"github.com/amigafs/trackdev/internal/unit"
)

func newTestWorker(t *testing.T) (*Worker, *faketest.Image) {
	t.Helper()
	img := faketest.New(11 * 512 * 80 * 2)
	e := unit.New(unit.Config{
		UnitID:   1,
		Opener:   faketest.Opener(img),
		Classify: faketest.ClassifyFake,
		Cache:    cache.New(11*512, 64*11*512),
	})
	w := New(e)
	go w.Run()
	return w, img
}

func TestWorkerInsertAndRead(t *testing.T) {
	w, _ := newTestWorker(t)

	require.NoError(t, w.SubmitControl(ControlRequest{Kind: CtrlInsert, Path: "fake.adf"}))

	result := w.Submit(&proto.Request{Command: proto.CmdRead, Offset: 0, Length: 512})
	require.NoError(t, result.Err)
	assert.Len(t, result.Data, 512)
}

func TestWorkerStopRequiresNoMedia(t *testing.T) {
	w, _ := newTestWorker(t)
	require.NoError(t, w.SubmitControl(ControlRequest{Kind: CtrlInsert, Path: "fake.adf"}))

	err := w.SubmitControl(ControlRequest{Kind: CtrlStop})
	assert.ErrorIs(t, err, deverr.ErrDriveInUse)
	assert.True(t, w.Active())
}

func TestWorkerStopWithoutMediaStopsWorker(t *testing.T) {
	w, _ := newTestWorker(t)

	// No media inserted, so Stop is permitted immediately.
	errCh := make(chan error, 1)
	go func() { errCh <- w.SubmitControl(ControlRequest{Kind: CtrlStop}) }()
	require.NoError(t, <-errCh)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, w.Active())
}

func TestWorkerAddChangeIntRepliesImmediatelyAndParks(t *testing.T) {
	w, _ := newTestWorker(t)
	require.NoError(t, w.SubmitControl(ControlRequest{Kind: CtrlInsert, Path: "fake.adf"}))

	fired := false
	result := w.Submit(&proto.Request{
		Command:  proto.CmdAddChangeInt,
		Listener: func() { fired = true },
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Parked)

	require.NoError(t, w.SubmitControl(ControlRequest{Kind: CtrlEject}))
	assert.True(t, fired)
}
