package filestorage

import (
	"strings"
)

type FileFlags uint8

const (
	// Zero-filled alignment file. Never materialized on disk.
	FlagPadFile FileFlags = 1 << iota
	FlagHidden
	FlagExecutable
	FlagSymlink
)

func (me FileFlags) String() string {
	var parts []string
	if me&FlagPadFile != 0 {
		parts = append(parts, "pad")
	}
	if me&FlagHidden != 0 {
		parts = append(parts, "hidden")
	}
	if me&FlagExecutable != 0 {
		parts = append(parts, "executable")
	}
	if me&FlagSymlink != 0 {
		parts = append(parts, "symlink")
	}
	return strings.Join(parts, "|")
}

// A file as declared by torrent metadata.
type File struct {
	// Path relative to the save path, using the OS separator. Absolute paths are used as is. This
	// has been sanitized by the metadata owner.
	Path  string
	Size  int64
	Flags FileFlags
	// For symlinks, the link target relative to the save path.
	SymlinkTarget string
}

func (f *File) PadFile() bool {
	return f.Flags&FlagPadFile != 0
}

// A contiguous run of bytes within a single file.
type FileSpan struct {
	File   int
	Offset int64
	Length int64
}

func (me FileSpan) End() int64 {
	return me.Offset + me.Length
}

// A region of a single piece.
type PeerRequest struct {
	Piece  int
	Start  int
	Length int
}
