//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package filepool

import (
	"errors"
	"os"
)

func openFile(path string, flag int, perm os.FileMode, mode OpenMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

func preallocate(f *os.File, size int64) error {
	return errors.ErrUnsupported
}

func adviseAccess(f *os.File, mode OpenMode) {}

func (h *Handle) DontNeed(off, n int64) {}

func (h *Handle) Flush(off, n int64) {
	if h.mm != nil {
		h.mm.Flush()
		return
	}
	h.f.Sync()
}
