package backend

import (
	"errors"
	"os"
)

// osImage is the Opener used in production: a positioned os.File, grounded
// in backend/local.go's handling of a single on-disk object (open once,
// ReadAt/WriteAt, fsync on Flush, classify OS errors on failure).
type osImage struct {
	f              *os.File
	writeProtected bool
}

// Open opens path for a unit's medium. writeProtect forces read-only access
// even if the file itself is writable (spec.md §4.2 media insert).
func Open(path string, writeProtect bool) (Image, error) {
	flag := os.O_RDWR
	if writeProtect {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if writeProtect {
			return nil, err
		}
		// Retry read-only: some images (or mounts) are genuinely read-only
		// and the caller didn't know to ask for write-protect.
		f, err2 := os.OpenFile(path, os.O_RDONLY, 0)
		if err2 != nil {
			return nil, err
		}
		return &osImage{f: f, writeProtected: true}, nil
	}
	return &osImage{f: f, writeProtected: writeProtect}, nil
}

func (i *osImage) ReadAt(p []byte, off int64) (int, error) { return i.f.ReadAt(p, off) }

func (i *osImage) WriteAt(p []byte, off int64) (int, error) {
	if i.writeProtected {
		return 0, os.ErrPermission
	}
	return i.f.WriteAt(p, off)
}

func (i *osImage) Flush() error {
	if i.writeProtected {
		return nil
	}
	return i.f.Sync()
}

func (i *osImage) Close() error { return i.f.Close() }

func (i *osImage) Size() (int64, error) {
	fi, err := i.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (i *osImage) WriteProtected() bool { return i.writeProtected }

// Classify maps OS-level I/O errors to the engine's Kind taxonomy. The
// portable cases are handled here; platform-specific errno (EROFS, ESTALE,
// ...) are handled in classify_unix.go/classify_windows.go, grounded in
// backend/local's own per-OS split (stat_unix.go vs stat_windows.go).
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, os.ErrPermission) {
		return KindWriteProtect
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrClosed) {
		return KindRemoved
	}
	if k := classifyPlatform(err); k != KindNone {
		return k
	}
	return KindIO
}
