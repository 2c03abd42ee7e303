package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.adf")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestOpenReadWriteRoundTrip(t *testing.T) {
	path := writeTempImage(t, 1024)

	img, err := Open(path, false)
	require.NoError(t, err)
	defer img.Close()

	n, err := img.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	out := make([]byte, 5)
	_, err = img.ReadAt(out, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	assert.NoError(t, img.Flush())
}

func TestOpenWriteProtectedRejectsWrite(t *testing.T) {
	path := writeTempImage(t, 1024)

	img, err := Open(path, true)
	require.NoError(t, err)
	defer img.Close()

	assert.True(t, img.WriteProtected())
	_, err = img.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestOpenFallsBackToReadOnlyForReadOnlyFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root ignores read-only file permissions")
	}
	path := writeTempImage(t, 1024)
	require.NoError(t, os.Chmod(path, 0o444))

	img, err := Open(path, false)
	require.NoError(t, err)
	defer img.Close()

	assert.True(t, img.WriteProtected())
}

func TestSizeReflectsFileSize(t *testing.T) {
	path := writeTempImage(t, 2048)

	img, err := Open(path, false)
	require.NoError(t, err)
	defer img.Close()

	size, err := img.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 2048, size)
}

func TestClassifyMapsSentinelErrors(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindWriteProtect, Classify(os.ErrPermission))
	assert.Equal(t, KindRemoved, Classify(os.ErrNotExist))
	assert.Equal(t, KindRemoved, Classify(os.ErrClosed))
}

func TestOpenMissingFileErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.adf"), false)
	assert.Error(t, err)
}
