//go:build !windows && !plan9

package backend

import (
	"errors"
	"syscall"
)

// classifyPlatform handles the unix errno cases os.ErrPermission/ErrNotExist
// don't already cover (EROFS isn't mapped to fs.ErrPermission by the
// standard library; ESTALE has no portable equivalent at all).
func classifyPlatform(err error) Kind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return KindNone
	}
	switch errno {
	case syscall.EROFS:
		return KindWriteProtect
	case syscall.ESTALE:
		return KindRemoved
	default:
		return KindNone
	}
}
