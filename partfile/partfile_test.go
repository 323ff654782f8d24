package partfile

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"
)

const testPieceSize = 1024

func openTest(t *testing.T, dir string, numPieces int) *PartFile {
	pf, err := Open(Opts{
		Dir:       dir,
		Name:      Name([]byte{0xde, 0xad}),
		NumPieces: numPieces,
		PieceSize: testPieceSize,
	})
	qt.Assert(t, qt.IsNil(err))
	t.Cleanup(func() { pf.Close() })
	return pf
}

func TestName(t *testing.T) {
	qt.Check(t, qt.Equals(Name([]byte{0xde, 0xad, 0x01}), ".dead01.parts"))
}

func TestRoundTrip(t *testing.T) {
	pf := openTest(t, t.TempDir(), 10)
	data := []byte("some piece data")
	n, err := pf.Write(data, 7, 100)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(n, len(data)))
	buf := make([]byte, len(data))
	n, err = pf.Read(buf, 7, 100)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(n, len(data)))
	qt.Check(t, qt.DeepEquals(buf, data))
	_, err = pf.Read(buf, 6, 0)
	qt.Check(t, qt.ErrorIs(err, ErrPieceNotFound))
}

func TestUnwrittenTailReadsZero(t *testing.T) {
	pf := openTest(t, t.TempDir(), 2)
	_, err := pf.Write([]byte{1, 2, 3}, 0, 0)
	qt.Assert(t, qt.IsNil(err))
	buf := bytes.Repeat([]byte{0xff}, testPieceSize)
	n, err := pf.Read(buf, 0, 0)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(n, testPieceSize))
	qt.Check(t, qt.DeepEquals(buf[:4], []byte{1, 2, 3, 0}))
	qt.Check(t, qt.IsTrue(bytes.Count(buf[3:], []byte{0}) == testPieceSize-3))
}

func TestSlotReuse(t *testing.T) {
	pf := openTest(t, t.TempDir(), 10)
	qt.Check(t, qt.Equals(pf.AllocateSlot(3), 0))
	qt.Check(t, qt.Equals(pf.AllocateSlot(5), 1))
	qt.Check(t, qt.Equals(pf.AllocateSlot(1), 2))
	pf.FreePiece(5)
	pf.FreePiece(3)
	qt.Check(t, qt.IsFalse(pf.Has(3)))
	qt.Check(t, qt.Equals(pf.AllocateSlot(9), 0))
	qt.Check(t, qt.Equals(pf.AllocateSlot(8), 1))
	qt.Check(t, qt.Equals(pf.AllocateSlot(7), 3))
	require.Panics(t, func() { pf.AllocateSlot(7) })
}

func TestFlushPersistsSlots(t *testing.T) {
	dir := t.TempDir()
	pf := openTest(t, dir, 300)
	_, err := pf.Write([]byte("a"), 299, 0)
	qt.Assert(t, qt.IsNil(err))
	_, err = pf.Write([]byte("b"), 4, 1)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(pf.FlushMetadata()))
	qt.Assert(t, qt.IsNil(pf.Close()))

	h, err := ReadHeader(pf.Path())
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(h.NumPieces, 300))
	qt.Check(t, qt.Equals(h.PieceSize, testPieceSize))
	qt.Check(t, qt.Equals(h.Slots[299], 0))
	qt.Check(t, qt.Equals(h.Slots[4], 1))
	qt.Check(t, qt.Equals(h.Slots[0], NoSlot))
	// 8 + 4*300 rounds up to 2048.
	qt.Check(t, qt.Equals(h.Size(), 2048))

	reopened := openTest(t, dir, 300)
	qt.Check(t, qt.Equals(reopened.Len(), 2))
	buf := make([]byte, 1)
	_, err = reopened.Read(buf, 4, 1)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(string(buf), "b"))
	// Slot 0 and 1 are taken, so the next allocation extends the file.
	qt.Check(t, qt.Equals(reopened.AllocateSlot(5), 2))
}

func TestFlushIsIdempotent(t *testing.T) {
	pf := openTest(t, t.TempDir(), 4)
	_, err := pf.Write([]byte("x"), 0, 0)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(pf.FlushMetadata()))
	fi, err := os.Stat(pf.Path())
	qt.Assert(t, qt.IsNil(err))
	// Clobber the header. A second flush without changes must not rewrite it.
	qt.Assert(t, qt.IsNil(os.WriteFile(pf.Path(), make([]byte, fi.Size()), 0o644)))
	qt.Assert(t, qt.IsNil(pf.FlushMetadata()))
	h, err := ReadHeader(pf.Path())
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(h.NumPieces, 0))
}

func TestFlushRemovesEmptyFile(t *testing.T) {
	pf := openTest(t, t.TempDir(), 4)
	for piece := range 4 {
		_, err := pf.Write([]byte("x"), piece, 0)
		qt.Assert(t, qt.IsNil(err))
	}
	qt.Assert(t, qt.IsNil(pf.FlushMetadata()))
	for piece := range 4 {
		pf.FreePiece(piece)
	}
	qt.Assert(t, qt.IsNil(pf.FlushMetadata()))
	_, err := os.Stat(pf.Path())
	qt.Check(t, qt.ErrorIs(err, fs.ErrNotExist))
	qt.Check(t, qt.Equals(pf.AllocateSlot(2), 0))
}

func TestMismatchedDimensionsAreEmpty(t *testing.T) {
	dir := t.TempDir()
	pf := openTest(t, dir, 4)
	_, err := pf.Write([]byte("x"), 1, 0)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(pf.FlushMetadata()))
	qt.Assert(t, qt.IsNil(pf.Close()))
	other := openTest(t, dir, 5)
	qt.Check(t, qt.Equals(other.Len(), 0))
	_, err = other.Read(make([]byte, 1), 1, 0)
	qt.Check(t, qt.ErrorIs(err, ErrPieceNotFound))
}

func TestTruncatedHeaderIsEmpty(t *testing.T) {
	dir := t.TempDir()
	name := Name([]byte{0xde, 0xad})
	qt.Assert(t, qt.IsNil(os.WriteFile(filepath.Join(dir, name), []byte{0, 0, 0}, 0o644)))
	pf := openTest(t, dir, 4)
	qt.Check(t, qt.IsTrue(pf.Empty()))
}

func TestForeignHeaderIsNotLoaded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Name([]byte{0xde, 0xad}))
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:], 1<<28)
	binary.BigEndian.PutUint32(b[4:], testPieceSize)
	qt.Assert(t, qt.IsNil(os.WriteFile(path, b[:], 0o644)))
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	pf := openTest(t, dir, 4)
	runtime.ReadMemStats(&after)
	qt.Check(t, qt.IsTrue(pf.Empty()))
	qt.Check(t, qt.IsTrue(after.TotalAlloc-before.TotalAlloc < 1<<20))
	_, err := ReadHeader(path)
	qt.Check(t, qt.ErrorIs(err, errShortHeader))
}

func TestOutOfRangeSlotsAreDropped(t *testing.T) {
	dir := t.TempDir()
	h := Header{
		NumPieces: 4,
		PieceSize: testPieceSize,
		Slots:     []int32{math.MaxInt32, 0, 4, NoSlot},
	}
	b, err := h.MarshalBinary()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(os.WriteFile(filepath.Join(dir, Name([]byte{0xde, 0xad})), b, 0o644)))
	pf := openTest(t, dir, 4)
	qt.Check(t, qt.Equals(pf.Len(), 1))
	qt.Check(t, qt.IsTrue(pf.Has(1)))
	qt.Check(t, qt.IsFalse(pf.Has(0)))
	qt.Check(t, qt.IsFalse(pf.Has(2)))
	qt.Check(t, qt.Equals(pf.AllocateSlot(0), int32(1)))
}

func TestHashMatchesRead(t *testing.T) {
	pf := openTest(t, t.TempDir(), 2)
	data := bytes.Repeat([]byte("0123456789"), 50)
	_, err := pf.Write(data, 1, 10)
	qt.Assert(t, qt.IsNil(err))
	h := sha1.New()
	n, err := pf.Hash(h, 600, 1, 0)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(n, 600))
	want := make([]byte, 600)
	copy(want[10:], data)
	expected := sha1.Sum(want)
	qt.Check(t, qt.DeepEquals(h.Sum(nil), expected[:]))
	_, err = pf.Hash(sha1.New(), 1, 0, 0)
	qt.Check(t, qt.ErrorIs(err, ErrPieceNotFound))
}

func TestExportFile(t *testing.T) {
	pf := openTest(t, t.TempDir(), 4)
	// A file spanning [1500, 3500) of the torrent covers the tail of piece 1, all of piece 2 and the
	// head of piece 3.
	whole := bytes.Repeat([]byte{'p'}, testPieceSize)
	for piece := 1; piece <= 3; piece++ {
		for i := range whole {
			whole[i] = byte('0' + piece)
		}
		_, err := pf.Write(whole, piece, 0)
		require.NoError(t, err)
	}
	out := make([]byte, 2000)
	err := pf.ExportFile(func(off int64, b []byte) error {
		copy(out[off:], b)
		return nil
	}, 1500, 2000)
	require.NoError(t, err)
	want := append(append(
		bytes.Repeat([]byte{'1'}, 548),
		bytes.Repeat([]byte{'2'}, 1024)...),
		bytes.Repeat([]byte{'3'}, 428)...)
	require.Equal(t, want, out)
	// Only the piece wholly inside the range is freed.
	require.True(t, pf.Has(1))
	require.False(t, pf.Has(2))
	require.True(t, pf.Has(3))
}

func TestMove(t *testing.T) {
	pf := openTest(t, t.TempDir(), 2)
	_, err := pf.Write([]byte("moved"), 0, 0)
	qt.Assert(t, qt.IsNil(err))
	newDir := filepath.Join(t.TempDir(), "nested", "dir")
	qt.Assert(t, qt.IsNil(pf.Move(newDir)))
	qt.Check(t, qt.Equals(filepath.Dir(pf.Path()), newDir))
	_, err = os.Stat(pf.Path())
	qt.Assert(t, qt.IsNil(err))
	buf := make([]byte, 5)
	_, err = pf.Read(buf, 0, 0)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(string(buf), "moved"))
}

func TestMoveWithoutFile(t *testing.T) {
	pf := openTest(t, t.TempDir(), 2)
	newDir := t.TempDir()
	qt.Assert(t, qt.IsNil(pf.Move(newDir)))
	qt.Check(t, qt.Equals(filepath.Dir(pf.Path()), newDir))
}
