package filepool

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func openFile(path string, flag int, perm os.FileMode, mode OpenMode) (*os.File, error) {
	if mode&NoAtime != 0 {
		f, err := os.OpenFile(path, flag|unix.O_NOATIME, perm)
		// O_NOATIME is only permitted for the file's owner.
		if !errors.Is(err, os.ErrPermission) {
			return f, err
		}
	}
	return os.OpenFile(path, flag, perm)
}

func preallocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return errors.ErrUnsupported
	}
	return err
}

func adviseAccess(f *os.File, mode OpenMode) {
	switch {
	case mode&RandomAccess != 0:
		unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
	case mode&SequentialAccess != 0:
		unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	}
}

// Tells the OS the range won't be needed again soon.
func (h *Handle) DontNeed(off, n int64) {
	if r := h.mappedRange(off, n); r != nil {
		unix.Madvise(r, unix.MADV_DONTNEED)
		return
	}
	unix.Fadvise(int(h.f.Fd()), off, n, unix.FADV_DONTNEED)
}

// Starts writing back the range now. Best effort.
func (h *Handle) Flush(off, n int64) {
	if r := h.mappedRange(off, n); r != nil {
		unix.Msync(r, unix.MS_ASYNC)
		return
	}
	unix.SyncFileRange(int(h.f.Fd()), off, n, unix.SYNC_FILE_RANGE_WRITE)
}
