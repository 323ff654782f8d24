// Package partfile stores pieces that overlap files which aren't being downloaded. Pieces are
// kept in fixed-size slots after a header mapping pieces to slots.
package partfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/natefinch/atomic"
	"github.com/tidwall/btree"

	"github.com/anacrolix/torrentdisk/filepool"
)

// Returned by reads and hashes of pieces that have no slot. Callers should read the piece from
// elsewhere.
var ErrPieceNotFound = errors.New("piece not in part-file")

// The conventional part-file name for a torrent.
func Name(infoHash []byte) string {
	return "." + hex.EncodeToString(infoHash) + ".parts"
}

type Opts struct {
	Dir       string
	Name      string
	NumPieces int
	PieceSize int64
	Logger    *slog.Logger
}

type PartFile struct {
	numPieces  int
	pieceSize  int64
	headerSize int64
	logger     *slog.Logger

	// Protects the slot map. File I/O happens without it.
	mu           sync.Mutex
	dir          string
	name         string
	slots        btree.Map[int, int32]
	freeSlots    roaring.Bitmap
	numAllocated int32
	dirty        bool

	// Held for reading during I/O, and for writing when the file is opened or closed.
	fileMu sync.RWMutex
	file   *os.File
}

// Loads the part-file's slot map if it exists. An existing part-file with different dimensions is
// considered empty, and is replaced on the next metadata flush.
func Open(opts Opts) (*PartFile, error) {
	panicif.True(opts.NumPieces < 0)
	panicif.True(opts.PieceSize <= 0 || opts.PieceSize > 1<<32-1)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	me := &PartFile{
		numPieces:  opts.NumPieces,
		pieceSize:  opts.PieceSize,
		headerSize: headerSize(opts.NumPieces),
		logger:     opts.Logger,
		dir:        opts.Dir,
		name:       opts.Name,
	}
	err := me.load()
	if err != nil {
		return nil, err
	}
	return me, nil
}

func (me *PartFile) load() error {
	f, err := os.Open(me.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	numPieces, pieceSize, err := readDimensions(f)
	if errors.Is(err, errShortHeader) {
		me.logger.Warn("ignoring truncated part-file", "path", me.path())
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading part-file header: %w", err)
	}
	if int64(numPieces) != int64(me.numPieces) || int64(pieceSize) != me.pieceSize {
		me.logger.Info("ignoring part-file with different dimensions",
			"path", me.path(),
			"num pieces", numPieces,
			"piece size", pieceSize)
		return nil
	}
	slots, err := readSlots(f, numPieces)
	if errors.Is(err, errShortHeader) {
		me.logger.Warn("ignoring truncated part-file", "path", me.path())
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading part-file header: %w", err)
	}
	var used roaring.Bitmap
	for piece, slot := range slots {
		if slot < 0 {
			continue
		}
		// There can never be more slots than pieces.
		if int64(slot) >= int64(me.numPieces) {
			me.logger.Warn("dropping piece with out of range part-file slot", "piece", piece, "slot", slot)
			continue
		}
		if used.Contains(uint32(slot)) {
			me.logger.Warn("dropping piece with duplicate part-file slot", "piece", piece, "slot", slot)
			continue
		}
		used.Add(uint32(slot))
		me.slots.Set(piece, slot)
		me.numAllocated = max(me.numAllocated, slot+1)
	}
	me.freeSlots.AddRange(0, uint64(me.numAllocated))
	me.freeSlots.AndNot(&used)
	return nil
}

func (me *PartFile) path() string {
	return filepath.Join(me.dir, me.name)
}

func (me *PartFile) Path() string {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.path()
}

func (me *PartFile) PieceSize() int64 {
	return me.pieceSize
}

// Whether the piece has a slot.
func (me *PartFile) Has(piece int) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	_, ok := me.slots.Get(piece)
	return ok
}

// The number of pieces with slots.
func (me *PartFile) Len() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.slots.Len()
}

func (me *PartFile) Empty() bool {
	return me.Len() == 0
}

// Assigns a slot to a piece that doesn't have one.
func (me *PartFile) AllocateSlot(piece int) int32 {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.allocateSlotLocked(piece)
}

func (me *PartFile) allocateSlotLocked(piece int) (slot int32) {
	panicif.True(piece < 0 || piece >= me.numPieces)
	_, ok := me.slots.Get(piece)
	panicif.True(ok)
	if me.freeSlots.IsEmpty() {
		slot = me.numAllocated
		me.numAllocated++
	} else {
		slot = int32(me.freeSlots.Minimum())
		me.freeSlots.Remove(uint32(slot))
	}
	me.slots.Set(piece, slot)
	me.dirty = true
	return
}

// Releases the piece's slot for reuse. The file isn't shrunk.
func (me *PartFile) FreePiece(piece int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.freePieceLocked(piece)
}

func (me *PartFile) freePieceLocked(piece int) {
	slot, ok := me.slots.Delete(piece)
	if !ok {
		return
	}
	me.freeSlots.Add(uint32(slot))
	me.dirty = true
}

func (me *PartFile) slotOffset(slot int32, offset int64) int64 {
	return me.headerSize + int64(slot)*me.pieceSize + offset
}

func (me *PartFile) checkRange(piece int, offset int64, n int) {
	panicif.True(piece < 0 || piece >= me.numPieces)
	panicif.True(offset < 0 || offset+int64(n) > me.pieceSize)
}

// Writes into the piece's slot, allocating one if necessary.
func (me *PartFile) Write(b []byte, piece int, offset int64) (n int, err error) {
	me.checkRange(piece, offset, len(b))
	me.mu.Lock()
	slot, ok := me.slots.Get(piece)
	if !ok {
		slot = me.allocateSlotLocked(piece)
	}
	path := me.path()
	me.mu.Unlock()
	f, unlock, err := me.getFile(path, true)
	if err != nil {
		return
	}
	defer unlock()
	return f.WriteAt(b, me.slotOffset(slot, offset))
}

func (me *PartFile) lookup(piece int) (slot int32, err error) {
	me.mu.Lock()
	slot, ok := me.slots.Get(piece)
	me.mu.Unlock()
	if !ok {
		err = ErrPieceNotFound
	}
	return
}

// Reads from the piece's slot. Parts of the slot that were never written read as zeroes.
func (me *PartFile) Read(b []byte, piece int, offset int64) (n int, err error) {
	me.checkRange(piece, offset, len(b))
	slot, err := me.lookup(piece)
	if err != nil {
		return
	}
	return me.readSlot(b, slot, offset)
}

func (me *PartFile) readSlot(b []byte, slot int32, offset int64) (n int, err error) {
	f, unlock, err := me.getFile(me.Path(), false)
	if err != nil {
		return
	}
	defer unlock()
	n, err = f.ReadAt(b, me.slotOffset(slot, offset))
	if errors.Is(err, io.EOF) {
		clear(b[n:])
		n, err = len(b), nil
	}
	return
}

const hashChunkSize = 1 << 14

var hashBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, hashChunkSize)
		return &b
	},
}

// Feeds length bytes of the piece's slot from offset into h.
func (me *PartFile) Hash(h hash.Hash, length int, piece int, offset int64) (n int, err error) {
	me.checkRange(piece, offset, length)
	slot, err := me.lookup(piece)
	if err != nil {
		return
	}
	bp := hashBufPool.Get().(*[]byte)
	defer hashBufPool.Put(bp)
	for n < length {
		b := (*bp)[:min(len(*bp), length-n)]
		var m int
		m, err = me.readSlot(b, slot, offset+int64(n))
		h.Write(b[:m])
		n += m
		if err != nil {
			return
		}
	}
	return
}

// Returns the open file with fileMu read-locked, opening it at path if necessary. create also
// creates the file and its directory.
func (me *PartFile) getFile(path string, create bool) (_ *os.File, unlock func(), err error) {
	me.fileMu.RLock()
	if me.file != nil {
		return me.file, me.fileMu.RUnlock, nil
	}
	me.fileMu.RUnlock()
	me.fileMu.Lock()
	if me.file == nil {
		err = me.openFileLocked(path, create)
	}
	me.fileMu.Unlock()
	if err != nil {
		return
	}
	// The file can be closed again between the locks.
	return me.getFile(path, create)
}

func (me *PartFile) openFileLocked(path string, create bool) (err error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, filepool.FilePerm)
	if create && errors.Is(err, fs.ErrNotExist) {
		err = os.MkdirAll(filepath.Dir(path), filepool.DirPerm)
		if err != nil {
			return
		}
		f, err = os.OpenFile(path, flag, filepool.FilePerm)
	}
	if err != nil {
		return
	}
	me.file = f
	return
}

func (me *PartFile) closeFile() (err error) {
	me.fileMu.Lock()
	defer me.fileMu.Unlock()
	if me.file != nil {
		err = me.file.Close()
		me.file = nil
	}
	return
}

// Writes the header if the slot map has changed. If no pieces remain, the file is deleted instead.
func (me *PartFile) FlushMetadata() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if !me.dirty {
		return nil
	}
	if me.slots.Len() == 0 {
		err := me.closeFile()
		if err != nil {
			return err
		}
		err = os.Remove(me.path())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		me.logger.Debug("removed empty part-file", "path", me.path())
		me.freeSlots.Clear()
		me.numAllocated = 0
		me.dirty = false
		return nil
	}
	h := Header{
		NumPieces: uint32(me.numPieces),
		PieceSize: uint32(me.pieceSize),
		Slots:     make([]int32, me.numPieces),
	}
	for i := range h.Slots {
		h.Slots[i] = NoSlot
	}
	me.slots.Scan(func(piece int, slot int32) bool {
		h.Slots[piece] = slot
		return true
	})
	b, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	f, unlock, err := me.getFile(me.path(), true)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = f.WriteAt(b, 0)
	if err != nil {
		return err
	}
	me.dirty = false
	me.logger.Debug("flushed part-file metadata", "path", me.path(), "pieces", me.slots.Len())
	return nil
}

// Copies stored data overlapping the byte range [offset, offset+size) of the torrent to f, which
// receives offsets relative to the start of the range. Pieces wholly within the range are freed.
func (me *PartFile) ExportFile(f func(off int64, b []byte) error, offset, size int64) error {
	if size <= 0 {
		return nil
	}
	end := offset + size
	type exported struct {
		piece int
		slot  int32
	}
	var pieces []exported
	me.mu.Lock()
	me.slots.Ascend(int(offset/me.pieceSize), func(piece int, slot int32) bool {
		if int64(piece)*me.pieceSize >= end {
			return false
		}
		pieces = append(pieces, exported{piece, slot})
		return true
	})
	me.mu.Unlock()
	var buf []byte
	for _, p := range pieces {
		pieceStart := int64(p.piece) * me.pieceSize
		pieceEnd := pieceStart + me.pieceSize
		begin := max(pieceStart, offset)
		stop := min(pieceEnd, end)
		if cap(buf) < int(stop-begin) {
			buf = make([]byte, me.pieceSize)
		}
		b := buf[:stop-begin]
		_, err := me.readSlot(b, p.slot, begin-pieceStart)
		if err != nil {
			return err
		}
		err = f(begin-offset, b)
		if err != nil {
			return err
		}
		if pieceStart >= offset && pieceEnd <= end {
			me.FreePiece(p.piece)
		}
	}
	return nil
}

// Relocates the part-file to dir, flushing metadata first. The file is renamed, or copied if
// renaming isn't possible.
func (me *PartFile) Move(dir string) error {
	err := me.FlushMetadata()
	if err != nil {
		return err
	}
	err = me.closeFile()
	if err != nil {
		return err
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	src := me.path()
	dst := filepath.Join(dir, me.name)
	if src == dst {
		return nil
	}
	_, err = os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		me.dir = dir
		return nil
	}
	if err != nil {
		return err
	}
	err = os.MkdirAll(dir, filepool.DirPerm)
	if err != nil {
		return err
	}
	err = os.Rename(src, dst)
	if err != nil {
		err = copyFile(dst, src)
		if err != nil {
			return err
		}
		err = os.Remove(src)
		if err != nil {
			return err
		}
	}
	me.dir = dir
	return nil
}

func copyFile(dst, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return atomic.WriteFile(dst, f)
}

// Drops the file handle. The metadata is not flushed.
func (me *PartFile) Close() error {
	return me.closeFile()
}

// Piece to slot assignments in piece order.
func (me *PartFile) Slots(f func(piece int, slot int32) bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.slots.Scan(f)
}
