// Package filestorage describes how a torrent's files are laid out over its pieces, and translates
// piece-relative requests into file-relative spans.
package filestorage

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"slices"

	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/anacrolix/torrentdisk/segments"
)

type fileEntry struct {
	File
	offset int64
}

// Read-only once constructed, except through RenameFile on a Clone.
type FileStorage struct {
	pieceLength int64
	numPieces   int
	totalSize   int64
	files       []fileEntry
	index       segments.Index
}

func New(pieceLength int64, files []File) (*FileStorage, error) {
	if pieceLength <= 0 {
		return nil, fmt.Errorf("invalid piece length %v", pieceLength)
	}
	if len(files) == 0 {
		return nil, errors.New("no files")
	}
	fs := &FileStorage{
		pieceLength: pieceLength,
		files:       make([]fileEntry, 0, len(files)),
	}
	for i, f := range files {
		if f.Size < 0 {
			return nil, fmt.Errorf("file %v: negative size %v", i, f.Size)
		}
		if f.Path == "" && !f.PadFile() {
			return nil, fmt.Errorf("file %v: empty path", i)
		}
		if f.Flags&FlagSymlink != 0 && f.Size != 0 {
			return nil, fmt.Errorf("file %v: symlink with nonzero size", i)
		}
		fs.files = append(fs.files, fileEntry{File: f, offset: fs.totalSize})
		fs.totalSize += f.Size
	}
	fs.numPieces = int((fs.totalSize + pieceLength - 1) / pieceLength)
	fs.buildIndex()
	return fs, nil
}

func (fs *FileStorage) buildIndex() {
	fs.index = segments.NewIndex(func(yield func(segments.Length) bool) {
		for _, f := range fs.files {
			if !yield(f.Size) {
				return
			}
		}
	})
}

// A deep copy, for copy-on-write remapping.
func (fs *FileStorage) Clone() *FileStorage {
	ret := *fs
	ret.files = slices.Clone(fs.files)
	ret.buildIndex()
	return &ret
}

func (fs *FileStorage) NumFiles() int {
	return len(fs.files)
}

func (fs *FileStorage) NumPieces() int {
	return fs.numPieces
}

func (fs *FileStorage) PieceLength() int64 {
	return fs.pieceLength
}

func (fs *FileStorage) TotalSize() int64 {
	return fs.totalSize
}

// The length of the given piece. Only the last piece may be short.
func (fs *FileStorage) PieceSize(piece int) int64 {
	panicif.True(piece < 0 || piece >= fs.numPieces)
	return min(fs.pieceLength, fs.totalSize-int64(piece)*fs.pieceLength)
}

func (fs *FileStorage) File(index int) File {
	return fs.files[index].File
}

func (fs *FileStorage) FileSize(index int) int64 {
	return fs.files[index].Size
}

// The file's offset within the torrent.
func (fs *FileStorage) FileOffset(index int) int64 {
	return fs.files[index].offset
}

func (fs *FileStorage) FileFlags(index int) FileFlags {
	return fs.files[index].Flags
}

func (fs *FileStorage) PadFileAt(index int) bool {
	return fs.files[index].PadFile()
}

func (fs *FileStorage) Symlink(index int) string {
	return fs.files[index].SymlinkTarget
}

func (fs *FileStorage) FileName(index int) string {
	return fs.files[index].Path
}

// The full path of the file on disk, given the torrent's save path.
func (fs *FileStorage) FilePath(index int, savePath string) string {
	p := fs.files[index].Path
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(savePath, p)
}

// Changes the file's path. Only call on a FileStorage that isn't shared, see Clone.
func (fs *FileStorage) RenameFile(index int, newName string) {
	fs.files[index].Path = filepath.Clean(newName)
}

// All file indices, for range-over-func.
func (fs *FileStorage) FileRange() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range fs.files {
			if !yield(i) {
				return
			}
		}
	}
}

// The index of the file containing the torrent offset. Zero-length files never contain an offset.
func (fs *FileStorage) FileIndexAtOffset(off int64) int {
	return fs.index.LocateOffset(off).Unwrap().Index
}

// The pieces overlapping the file, as a half-open range. Empty for zero-length files.
func (fs *FileStorage) FilePieceRange(index int) (begin, end int) {
	f := fs.files[index]
	if f.Size == 0 {
		return 0, 0
	}
	begin = int(f.offset / fs.pieceLength)
	end = int((f.offset + f.Size + fs.pieceLength - 1) / fs.pieceLength)
	return
}

// Maps a region of a file onto the piece it starts in.
func (fs *FileStorage) MapFile(file int, offset int64, size int) PeerRequest {
	panicif.True(offset < 0)
	off := fs.files[file].offset + offset
	if off >= fs.totalSize {
		return PeerRequest{
			Piece: fs.numPieces,
		}
	}
	return PeerRequest{
		Piece:  int(off / fs.pieceLength),
		Start:  int(off % fs.pieceLength),
		Length: int(min(int64(size), fs.totalSize-off)),
	}
}
