package storage

import (
	"errors"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/anacrolix/torrentdisk/filepool"
	"github.com/anacrolix/torrentdisk/filestorage"
	"github.com/anacrolix/torrentdisk/partfile"
	"github.com/anacrolix/torrentdisk/settings"
)

type jobKind int

const (
	jobRead jobKind = iota
	jobWrite
	jobHash
)

type job struct {
	kind  jobKind
	buf   []byte
	h     hash.Hash
	flags JobFlags
}

func (s *Storage) Read(st *settings.Settings, b []byte, piece, offset int, flags JobFlags) (int, error) {
	return s.run(st, job{kind: jobRead, buf: b, flags: flags}, piece, offset, len(b))
}

func (s *Storage) Write(st *settings.Settings, b []byte, piece, offset int, flags JobFlags) (int, error) {
	return s.run(st, job{kind: jobWrite, buf: b, flags: flags}, piece, offset, len(b))
}

func (s *Storage) Hash(st *settings.Settings, h hash.Hash, length, piece, offset int, flags JobFlags) (int, error) {
	panicif.NotEq(h.Size(), 20)
	return s.run(st, job{kind: jobHash, h: h, flags: flags}, piece, offset, length)
}

// Blocks never span files, but the same span logic applies.
func (s *Storage) Hash2(st *settings.Settings, h hash.Hash, length, piece, offset int, flags JobFlags) (int, error) {
	panicif.NotEq(h.Size(), 32)
	return s.run(st, job{kind: jobHash, h: h, flags: flags}, piece, offset, length)
}

func (s *Storage) run(st *settings.Settings, j job, piece, offset, length int) (n int, err error) {
	s.applyHandleLimit(st)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if piece < 0 || piece >= s.mapped.NumPieces() || offset < 0 ||
		int64(offset)+int64(length) > s.mapped.PieceSize(piece) {
		op := OpFileRead
		if j.kind == jobWrite {
			op = OpFileWrite
		}
		return 0, &Error{File: FileNone, Op: op, Err: ErrOutOfRange}
	}
	for span := range s.mapped.Spans(piece, offset, int64(length)) {
		var m int
		m, err = s.runSpan(st, j, span, piece, offset+n, n)
		n += m
		if err != nil {
			return
		}
	}
	return
}

// The pool is shared between storages, so the latest settings seen win.
func (s *Storage) applyHandleLimit(st *settings.Settings) {
	if st.FileHandleLimit > 0 && s.pool.Limit() != st.FileHandleLimit {
		s.pool.Resize(st.FileHandleLimit)
	}
}

// pieceOff is the span's offset within the piece, and pos its offset within the job.
func (s *Storage) runSpan(
	st *settings.Settings,
	j job,
	span filestorage.FileSpan,
	piece, pieceOff, pos int,
) (int, error) {
	l := int(span.Length)
	if s.mapped.PadFileAt(span.File) {
		switch j.kind {
		case jobRead:
			clear(j.buf[pos : pos+l])
		case jobHash:
			hashZeros(j.h, l)
		}
		return l, nil
	}
	if s.priority(span.File) == DontDownload && s.usesPartFile(span.File) {
		n, err, ok := s.runPartFileSpan(j, span.File, piece, pieceOff, pos, l)
		if ok {
			return n, err
		}
	}
	return s.runFileSpan(st, j, span, pos)
}

// ok is false if the part-file doesn't have the piece, and the real file should be used instead.
// Errors are tagged with the file the span belongs to.
func (s *Storage) runPartFileSpan(j job, file, piece, pieceOff, pos, l int) (n int, err error, ok bool) {
	op := OpPartfileRead
	if j.kind == jobWrite {
		op = OpPartfileWrite
	}
	pf, err := s.getPartFile()
	if err != nil {
		return 0, newError(file, op, err), true
	}
	switch j.kind {
	case jobWrite:
		n, err = pf.Write(j.buf[pos:pos+l], piece, int64(pieceOff))
		return n, newError(file, op, err), true
	case jobRead:
		n, err = pf.Read(j.buf[pos:pos+l], piece, int64(pieceOff))
	case jobHash:
		n, err = pf.Hash(j.h, l, piece, int64(pieceOff))
	}
	if errors.Is(err, partfile.ErrPieceNotFound) {
		return 0, nil, false
	}
	return n, newError(file, op, err), true
}

func (s *Storage) runFileSpan(st *settings.Settings, j job, span filestorage.FileSpan, pos int) (n int, err error) {
	write := j.kind == jobWrite
	h, err := s.openFile(st, span.File, write, j.flags)
	if err != nil {
		return
	}
	defer h.Close()
	l := int(span.Length)
	op := OpFileRead
	switch j.kind {
	case jobRead:
		n, err = readHandle(h, j.buf[pos:pos+l], span.Offset)
	case jobWrite:
		op = OpFileWrite
		n, err = writeHandle(h, j.buf[pos:pos+l], span.Offset)
	case jobHash:
		n, err = hashHandle(h, j.h, l, span.Offset)
	}
	if err != nil {
		return n, newError(span.File, op, err)
	}
	adviseAfter(st, h, j, span.Offset, int64(n))
	return
}

// Best-effort cache hints after a transfer.
func adviseAfter(st *settings.Settings, h *filepool.Handle, j job, off, n int64) {
	write := j.kind == jobWrite
	if write && (j.flags&FlagFlushPiece != 0 || st.DiskWriteMode == settings.WriteThrough) {
		h.Flush(off, n)
	}
	if j.flags&FlagVolatileRead != 0 || write && st.DiskWriteMode == settings.DisableOSCache {
		h.DontNeed(off, n)
	}
}

func (s *Storage) openMode(st *settings.Settings, file int, write bool, flags JobFlags) (mode filepool.OpenMode) {
	if write {
		mode |= filepool.Write
		if s.allocation == AllocateSparse || s.drive == driveRemote {
			mode |= filepool.Sparse
		}
	}
	if st.NoAtime {
		mode |= filepool.NoAtime
	}
	if flags&FlagSequentialAccess != 0 {
		mode |= filepool.SequentialAccess
	} else {
		mode |= filepool.RandomAccess
	}
	ff := s.mapped.FileFlags(file)
	if ff&filestorage.FlagExecutable != 0 {
		mode |= filepool.Executable
	}
	if ff&filestorage.FlagHidden != 0 {
		mode |= filepool.Hidden
	}
	if st.DiskWriteMode == settings.DisableOSCache {
		mode |= filepool.NoCache
	}
	if s.useMmap(st, file) {
		mode |= filepool.Mmap
	}
	return
}

// Whether the file is accessed through a mapping. Reads follow the write policy so that reads and
// writes can share a pooled handle.
func (s *Storage) useMmap(st *settings.Settings, file int) bool {
	if !st.UseMmap {
		return false
	}
	size := s.mapped.FileSize(file)
	if size < st.MmapFileSizeCutoff || int64(int(size)) != size {
		return false
	}
	switch st.MmapWrites {
	case settings.MmapWriteAlways:
		return true
	case settings.MmapWriteNever:
		return false
	default:
		return s.drive.prefersMmapWrites()
	}
}

func (s *Storage) openFile(st *settings.Settings, file int, write bool, flags JobFlags) (*filepool.Handle, error) {
	mode := s.openMode(st, file, write, flags)
	path := s.mapped.FilePath(file, s.savePath)
	key := s.fileKey(file)
	size := s.mapped.FileSize(file)
	if !write {
		h, err := s.pool.Open(key, path, size, mode)
		return h, newError(file, OpFileOpen, err)
	}
	truncate := !s.isCreated(file)
	if truncate {
		// A cached handle would have been opened, and possibly mapped, at the old size.
		s.pool.Release(key)
		mode |= filepool.Truncate
	}
	h, err := s.openForWrite(file, key, path, size, mode)
	if err != nil {
		return nil, err
	}
	if truncate {
		s.setCreated(file)
	}
	return h, nil
}

// Opens a file for writing, making its directory or fixing its permissions once if needed.
func (s *Storage) openForWrite(
	file int,
	key filepool.FileKey,
	path string,
	size int64,
	mode filepool.OpenMode,
) (h *filepool.Handle, err error) {
	h, err = s.pool.Open(key, path, size, mode)
	if err == nil {
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		err = os.MkdirAll(filepath.Dir(path), filepool.DirPerm)
		if err != nil {
			return nil, &Error{File: file, Op: OpMkdir, Err: err}
		}
	} else if errors.Is(err, fs.ErrPermission) {
		if os.Chmod(path, filepool.FilePerm) != nil {
			return nil, &Error{File: file, Op: OpFileOpen, Err: err}
		}
	} else {
		return nil, &Error{File: file, Op: OpFileOpen, Err: err}
	}
	h, err = s.pool.Open(key, path, size, mode)
	return h, newError(file, OpFileOpen, err)
}

// The mapped bytes for [off, off+n), if they're all mapped.
func mapped(h *filepool.Handle, off int64, n int) []byte {
	mm := h.Range()
	if mm == nil || off+int64(n) > int64(len(mm)) {
		return nil
	}
	return mm[off : off+int64(n)]
}

func readHandle(h *filepool.Handle, b []byte, off int64) (n int, err error) {
	if m := mapped(h, off, len(b)); m != nil {
		return copyMapped(b, m, false)
	}
	n, err = h.ReadAt(b, off)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return
}

func writeHandle(h *filepool.Handle, b []byte, off int64) (n int, err error) {
	if m := mapped(h, off, len(b)); m != nil && h.Mode()&filepool.Write != 0 {
		return copyMapped(m, b, true)
	}
	return h.WriteAt(b, off)
}

const hashChunkSize = 1 << 14

var hashBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, hashChunkSize)
		return &b
	},
}

func hashHandle(h *filepool.Handle, hasher hash.Hash, length int, off int64) (n int, err error) {
	if m := mapped(h, off, length); m != nil {
		return hashMapped(hasher, m)
	}
	bp := hashBufPool.Get().(*[]byte)
	defer hashBufPool.Put(bp)
	for n < length {
		b := (*bp)[:min(len(*bp), length-n)]
		var m int
		m, err = h.ReadAt(b, off+int64(n))
		hasher.Write(b[:m])
		n += m
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return
		}
	}
	return
}

var zeros [hashChunkSize]byte

// Feeds n zero bytes to h without touching disk.
func hashZeros(h hash.Hash, n int) {
	for n > 0 {
		m := min(n, len(zeros))
		h.Write(zeros[:m])
		n -= m
	}
}
