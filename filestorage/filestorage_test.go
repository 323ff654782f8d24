package filestorage

import (
	"path/filepath"
	"testing"

	"github.com/go-quicktest/qt"
)

func mustNew(t *testing.T, pieceLength int64, files ...File) *FileStorage {
	t.Helper()
	fs, err := New(pieceLength, files)
	qt.Assert(t, qt.IsNil(err))
	return fs
}

func TestZeroLengthMiddleFile(t *testing.T) {
	fs := mustNew(t, 16<<10,
		File{Path: "a", Size: 10000},
		File{Path: "b", Size: 0},
		File{Path: "c", Size: 10000},
	)
	qt.Check(t, qt.Equals(fs.NumPieces(), 2))
	spans := fs.Resolve(0, 0, 16<<10)
	qt.Check(t, qt.DeepEquals(spans, []FileSpan{
		{File: 0, Offset: 0, Length: 10000},
		{File: 2, Offset: 0, Length: 6384},
	}))
	begin, end := fs.FilePieceRange(1)
	qt.Check(t, qt.Equals(begin, end))
}

func TestRequestEndingOnFileBoundary(t *testing.T) {
	fs := mustNew(t, 8,
		File{Path: "a", Size: 4},
		File{Path: "b", Size: 4},
		File{Path: "c", Size: 4},
	)
	qt.Check(t, qt.DeepEquals(fs.Resolve(0, 0, 4), []FileSpan{{0, 0, 4}}))
	qt.Check(t, qt.DeepEquals(fs.Resolve(0, 2, 6), []FileSpan{{0, 2, 2}, {1, 0, 4}}))
	qt.Check(t, qt.DeepEquals(fs.Resolve(1, 0, 8), []FileSpan{{2, 0, 4}}))
}

func TestSpanCoverage(t *testing.T) {
	fs := mustNew(t, 7,
		File{Path: "a", Size: 3},
		File{Size: 4, Flags: FlagPadFile},
		File{Path: "b", Size: 0},
		File{Path: "c", Size: 12},
		File{Path: "d", Size: 1},
		File{Size: 6, Flags: FlagPadFile},
		File{Path: "e", Size: 9},
	)
	for piece := range fs.NumPieces() {
		pieceSize := fs.PieceSize(piece)
		for offset := int64(0); offset < pieceSize; offset++ {
			for length := int64(0); offset+length <= pieceSize; length++ {
				next := int64(piece)*fs.PieceLength() + offset
				var sum int64
				for _, s := range fs.Resolve(piece, int(offset), length) {
					qt.Assert(t, qt.IsTrue(s.Length > 0))
					qt.Assert(t, qt.IsTrue(s.End() <= fs.FileSize(s.File)))
					qt.Assert(t, qt.Equals(fs.FileOffset(s.File)+s.Offset, next))
					next += s.Length
					sum += s.Length
				}
				qt.Assert(t, qt.Equals(sum, length))
			}
		}
	}
}

func TestPadFilesAreResolved(t *testing.T) {
	fs := mustNew(t, 4,
		File{Path: "a", Size: 2},
		File{Size: 2, Flags: FlagPadFile},
		File{Path: "b", Size: 4},
	)
	spans := fs.Resolve(0, 0, 4)
	qt.Assert(t, qt.HasLen(spans, 2))
	qt.Check(t, qt.IsTrue(fs.PadFileAt(spans[1].File)))
}

func TestMapFile(t *testing.T) {
	fs := mustNew(t, 10,
		File{Path: "a", Size: 15},
		File{Path: "b", Size: 12},
	)
	qt.Check(t, qt.DeepEquals(fs.MapFile(1, 0, 100), PeerRequest{Piece: 1, Start: 5, Length: 12}))
	qt.Check(t, qt.DeepEquals(fs.MapFile(1, 6, 1), PeerRequest{Piece: 2, Start: 1, Length: 1}))
	qt.Check(t, qt.Equals(fs.FileIndexAtOffset(15), 1))
	qt.Check(t, qt.Equals(fs.PieceSize(2), int64(7)))
}

func TestRenameCloneIsIndependent(t *testing.T) {
	fs := mustNew(t, 4, File{Path: filepath.Join("dir", "a"), Size: 5})
	clone := fs.Clone()
	clone.RenameFile(0, filepath.Join("other", "b"))
	qt.Check(t, qt.Equals(fs.FilePath(0, "/save"), filepath.Join("/save", "dir", "a")))
	qt.Check(t, qt.Equals(clone.FilePath(0, "/save"), filepath.Join("/save", "other", "b")))
	abs := filepath.Join(t.TempDir(), "abs")
	clone.RenameFile(0, abs)
	qt.Check(t, qt.Equals(clone.FilePath(0, "/save"), abs))
}

func TestNewRejectsBadLayouts(t *testing.T) {
	_, err := New(0, []File{{Path: "a", Size: 1}})
	qt.Check(t, qt.IsNotNil(err))
	_, err = New(4, nil)
	qt.Check(t, qt.IsNotNil(err))
	_, err = New(4, []File{{Path: "a", Size: -1}})
	qt.Check(t, qt.IsNotNil(err))
	_, err = New(4, []File{{Path: "l", Size: 1, Flags: FlagSymlink}})
	qt.Check(t, qt.IsNotNil(err))
}
