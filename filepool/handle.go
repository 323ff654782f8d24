package filepool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/edsrzf/mmap-go"
)

// An open file, optionally memory-mapped. Shared between callers of Pool.Open, each of which must
// Close their reference.
type Handle struct {
	f    *os.File
	mm   mmap.MMap
	mode OpenMode
	refs atomic.Int32
}

func (h *Handle) File() *os.File {
	return h.f
}

func (h *Handle) Mode() OpenMode {
	return h.mode
}

// The mapped bytes of the file. Nil if the file isn't mapped, or was empty when it was opened.
func (h *Handle) Range() []byte {
	return h.mm
}

func (h *Handle) ReadAt(b []byte, off int64) (int, error) {
	return h.f.ReadAt(b, off)
}

func (h *Handle) WriteAt(b []byte, off int64) (int, error) {
	panicif.True(h.mode&Write == 0)
	return h.f.WriteAt(b, off)
}

// Releases the caller's reference.
func (h *Handle) Close() error {
	return h.dec()
}

func (h *Handle) inc(n int32) {
	panicif.True(h.refs.Add(n) <= n)
}

func (h *Handle) dec() (err error) {
	refs := h.refs.Add(-1)
	panicif.True(refs < 0)
	if refs != 0 {
		return nil
	}
	if h.mm != nil {
		err = h.mm.Unmap()
	}
	return errors.Join(err, h.f.Close())
}

// Physically opens a file. The returned handle has a single reference.
func openHandle(path string, size int64, mode OpenMode) (_ *Handle, err error) {
	flag := os.O_RDONLY
	perm := FilePerm
	if mode&Write != 0 {
		flag = os.O_RDWR | os.O_CREATE
		if mode&Executable != 0 {
			perm = ExecutablePerm
		}
	}
	f, err := openFile(path, flag, perm, mode)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()
	if mode&Write != 0 && mode&Truncate != 0 {
		err = setFileSize(f, size, mode&Sparse == 0)
		if err != nil {
			err = fmt.Errorf("setting file size: %w", err)
			return
		}
	}
	adviseAccess(f, mode)
	h := &Handle{
		f:    f,
		mode: mode,
	}
	if mode&Mmap != 0 {
		h.mm, err = mapFile(f, mode)
		if err != nil {
			err = fmt.Errorf("mapping file: %w", err)
			return
		}
	}
	h.refs.Store(1)
	return h, nil
}

func setFileSize(f *os.File, size int64, allocate bool) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == size {
		return nil
	}
	if fi.Size() > size || !allocate {
		return f.Truncate(size)
	}
	err = preallocate(f, size)
	if errors.Is(err, errors.ErrUnsupported) {
		err = f.Truncate(size)
	}
	return err
}

func mapFile(f *os.File, mode OpenMode) (mmap.MMap, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// Mapping an empty file fails, and there's nothing to map anyway.
	if fi.Size() == 0 {
		return nil, nil
	}
	if fi.Size() != int64(int(fi.Size())) {
		return nil, fmt.Errorf("file too large to map: %w", fs.ErrInvalid)
	}
	prot := mmap.RDONLY
	if mode&Write != 0 {
		prot = mmap.RDWR
	}
	return mmap.Map(f, prot, 0)
}
