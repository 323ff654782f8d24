//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package filepool

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func openFile(path string, flag int, perm os.FileMode, mode OpenMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

func preallocate(f *os.File, size int64) error {
	return errors.ErrUnsupported
}

func adviseAccess(f *os.File, mode OpenMode) {}

func (h *Handle) DontNeed(off, n int64) {
	if r := h.mappedRange(off, n); r != nil {
		unix.Madvise(r, unix.MADV_DONTNEED)
	}
}

func (h *Handle) Flush(off, n int64) {
	if r := h.mappedRange(off, n); r != nil {
		unix.Msync(r, unix.MS_ASYNC)
		return
	}
	h.f.Sync()
}
