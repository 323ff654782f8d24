package partfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const headerAlignment = 1024

// Slot value for pieces that aren't stored.
const NoSlot int32 = -1

// The part-file header. All fields are big-endian on disk, followed by padding to the next
// headerAlignment boundary.
type Header struct {
	NumPieces uint32
	PieceSize uint32
	// Indexed by piece.
	Slots []int32
}

func headerSize(numPieces int) int64 {
	n := int64(8 + 4*numPieces)
	return (n + headerAlignment - 1) / headerAlignment * headerAlignment
}

// The on-disk size of the header including padding.
func (me *Header) Size() int64 {
	return headerSize(int(me.NumPieces))
}

func (me *Header) MarshalBinary() ([]byte, error) {
	if len(me.Slots) != int(me.NumPieces) {
		return nil, fmt.Errorf("have %v slots for %v pieces", len(me.Slots), me.NumPieces)
	}
	b := make([]byte, me.Size())
	binary.BigEndian.PutUint32(b[0:], me.NumPieces)
	binary.BigEndian.PutUint32(b[4:], me.PieceSize)
	for i, slot := range me.Slots {
		binary.BigEndian.PutUint32(b[8+4*i:], uint32(slot))
	}
	return b, nil
}

func decodeDimensions(b []byte) (numPieces, pieceSize uint32) {
	return binary.BigEndian.Uint32(b[0:]), binary.BigEndian.Uint32(b[4:])
}

func decodeSlots(b []byte, numPieces uint32) []int32 {
	slots := make([]int32, numPieces)
	for i := range slots {
		slots[i] = int32(binary.BigEndian.Uint32(b[4*i:]))
	}
	return slots
}

var errShortHeader = errors.New("short part-file header")

func readDimensions(r io.ReaderAt) (numPieces, pieceSize uint32, err error) {
	var dims [8]byte
	_, err = r.ReadAt(dims[:], 0)
	if errors.Is(err, io.EOF) {
		err = errShortHeader
	}
	if err != nil {
		return
	}
	numPieces, pieceSize = decodeDimensions(dims[:])
	return
}

// numPieces must already be trusted, it sizes the read.
func readSlots(r io.ReaderAt, numPieces uint32) ([]int32, error) {
	b := make([]byte, 4*int64(numPieces))
	_, err := r.ReadAt(b, 8)
	if errors.Is(err, io.EOF) {
		err = errShortHeader
	}
	if err != nil {
		return nil, err
	}
	return decodeSlots(b, numPieces), nil
}

// Reads the header of the part-file at path.
func ReadHeader(path string) (h Header, err error) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	defer func() {
		if err != nil {
			err = fmt.Errorf("reading header of %q: %w", path, err)
		}
	}()
	h.NumPieces, h.PieceSize, err = readDimensions(f)
	if err != nil {
		return
	}
	fi, err := f.Stat()
	if err != nil {
		return
	}
	if 8+4*int64(h.NumPieces) > fi.Size() {
		err = errShortHeader
		return
	}
	h.Slots, err = readSlots(f, h.NumPieces)
	return
}
