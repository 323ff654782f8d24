// Package resume captures and checks the on-disk state of a torrent's files so that a restarted
// session can tell whether its record of completed pieces is still valid.
package resume

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/anacrolix/torrentdisk/filestorage"
)

// What a file looked like when resume data was saved. A zero value means the file didn't exist.
type FileState struct {
	Size int64
	// Modification time in seconds since the Unix epoch. Zero skips the check.
	Mtime int64
}

type Params struct {
	// Indexed by file. Pad files and symlinks are left zero.
	Files []FileState
}

func skipFile(layout *filestorage.FileStorage, i int) bool {
	return layout.PadFileAt(i) || layout.FileFlags(i)&filestorage.FlagSymlink != 0
}

// Records the size and mtime of every file in the layout.
func Capture(layout *filestorage.FileStorage, savePath string) (p Params, err error) {
	p.Files = make([]FileState, layout.NumFiles())
	for i := range layout.FileRange() {
		if skipFile(layout, i) {
			continue
		}
		var fi os.FileInfo
		fi, err = os.Stat(layout.FilePath(i, savePath))
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
			continue
		}
		if err != nil {
			err = &FileError{File: i, Err: err}
			return
		}
		p.Files[i] = FileState{
			Size:  fi.Size(),
			Mtime: fi.ModTime().Unix(),
		}
	}
	return
}

type FileError struct {
	File int
	Err  error
}

func (me *FileError) Error() string {
	return fmt.Sprintf("file %v: %v", me.File, me.Err)
}

func (me *FileError) Unwrap() error {
	return me.Err
}

type MismatchReason int

const (
	FileCountMismatch MismatchReason = iota
	FileMissing
	SizeMismatch
	MtimeMismatch
)

func (me MismatchReason) String() string {
	switch me {
	case FileCountMismatch:
		return "file count mismatch"
	case FileMissing:
		return "file missing"
	case SizeMismatch:
		return "size mismatch"
	case MtimeMismatch:
		return "mtime mismatch"
	}
	return "unknown"
}

type Mismatch struct {
	// -1 for mismatches not specific to a file.
	File   int
	Reason MismatchReason
}

// Compares the files on disk against p. Mismatches mean the resume data can't be trusted. Only
// errors stat'ing files are returned as errors.
func Verify(layout *filestorage.FileStorage, savePath string, p Params) (mismatches []Mismatch, err error) {
	if len(p.Files) != layout.NumFiles() {
		mismatches = append(mismatches, Mismatch{-1, FileCountMismatch})
		return
	}
	for i := range layout.FileRange() {
		if skipFile(layout, i) {
			continue
		}
		want := p.Files[i]
		var fi os.FileInfo
		fi, err = os.Stat(layout.FilePath(i, savePath))
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
			if want.Size != 0 {
				mismatches = append(mismatches, Mismatch{i, FileMissing})
			}
			continue
		}
		if err != nil {
			err = &FileError{File: i, Err: err}
			return
		}
		if fi.Size() != want.Size {
			mismatches = append(mismatches, Mismatch{i, SizeMismatch})
			continue
		}
		if want.Mtime != 0 && fi.ModTime().Unix() != want.Mtime {
			mismatches = append(mismatches, Mismatch{i, MtimeMismatch})
		}
	}
	return
}
