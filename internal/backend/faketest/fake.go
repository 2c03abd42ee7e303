// Package faketest provides an in-memory backend.Image for engine and cache
// tests, grounded in backend/cache's own storage_memory.go, which exists so
// tests can swap a persistent, disk-backed store for a fast in-memory one
// with the same interface.
package faketest

import (
	"errors"
	"io"

	"github.com/amigafs/trackdev/internal/backend"
)

// Image is a fixed-size in-memory image. Writes and reads are unconditional
// unless Fail* is set, letting tests exercise the engine's error-classification
// paths deterministically.
type Image struct {
	Data         []byte
	Protected    bool
	FailWrite    error // returned by WriteAt when non-nil
	FailRead     error // returned by ReadAt when non-nil
	FlushCount   int
	Closed       bool
	WriteAtCalls [][2]int64 // (offset, length) of each WriteAt, for assertions
}

// New returns an Image of the given size, zero-filled.
func New(size int64) *Image {
	return &Image{Data: make([]byte, size)}
}

func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	if i.FailRead != nil {
		return 0, i.FailRead
	}
	if off < 0 || off > int64(len(i.Data)) {
		return 0, io.EOF
	}
	n := copy(p, i.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (i *Image) WriteAt(p []byte, off int64) (int, error) {
	i.WriteAtCalls = append(i.WriteAtCalls, [2]int64{off, int64(len(p))})
	if i.FailWrite != nil {
		return 0, i.FailWrite
	}
	if i.Protected {
		return 0, errProtected
	}
	if off+int64(len(p)) > int64(len(i.Data)) {
		return 0, io.ErrShortWrite
	}
	return copy(i.Data[off:], p), nil
}

func (i *Image) Flush() error {
	i.FlushCount++
	return nil
}

func (i *Image) Close() error {
	i.Closed = true
	return nil
}

func (i *Image) Size() (int64, error) { return int64(len(i.Data)), nil }

func (i *Image) WriteProtected() bool { return i.Protected }

var errProtected = errors.New("faketest: write protected")

// ErrRemoved is a sentinel FailWrite/FailRead value tests can set to
// simulate the backend reporting that the medium was removed mid-operation.
var ErrRemoved = errors.New("faketest: medium removed")

// Opener adapts a fixed Image into a backend.Opener for tests that don't
// care about the path argument.
func Opener(img *Image) backend.Opener {
	return func(path string, writeProtect bool) (backend.Image, error) {
		img.Protected = img.Protected || writeProtect
		return img, nil
	}
}

// ClassifyFake maps faketest's sentinel errors the same way backend.Classify
// maps OS errors, so engine tests can use either backend interchangeably.
func ClassifyFake(err error) backend.Kind {
	switch {
	case err == nil:
		return backend.KindNone
	case errors.Is(err, errProtected):
		return backend.KindWriteProtect
	case errors.Is(err, ErrRemoved):
		return backend.KindRemoved
	default:
		return backend.KindIO
	}
}
