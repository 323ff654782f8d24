package storage

import (
	"errors"
	"fmt"
)

// Returned for reads, writes and hashes that extend past the end of their piece.
var ErrOutOfRange = errors.New("request outside piece")

type Operation int

const (
	OpUnknown Operation = iota
	OpFileOpen
	OpFileRead
	OpFileWrite
	OpFileStat
	OpMkdir
	OpFileRename
	OpFileRemove
	OpFileCopy
	OpFileFallocate
	OpSymlink
	OpHardLink
	OpPartfileRead
	OpPartfileWrite
	OpPartfileMove
	OpCheckResume
)

var opNames = [...]string{
	OpUnknown:       "unknown",
	OpFileOpen:      "open",
	OpFileRead:      "read",
	OpFileWrite:     "write",
	OpFileStat:      "stat",
	OpMkdir:         "mkdir",
	OpFileRename:    "rename",
	OpFileRemove:    "remove",
	OpFileCopy:      "copy",
	OpFileFallocate: "fallocate",
	OpSymlink:       "symlink",
	OpHardLink:      "hard link",
	OpPartfileRead:  "partfile read",
	OpPartfileWrite: "partfile write",
	OpPartfileMove:  "partfile move",
	OpCheckResume:   "check resume",
}

func (me Operation) String() string {
	if me < 0 || int(me) >= len(opNames) {
		return fmt.Sprintf("Operation(%d)", int(me))
	}
	return opNames[me]
}

// File indices for errors that aren't about a torrent file.
const (
	FilePartfile = -1
	FileNone     = -2
)

// An I/O failure tagged with the file and what was being done to it.
type Error struct {
	File int
	Op   Operation
	Err  error
}

func (me *Error) Error() string {
	switch me.File {
	case FilePartfile:
		return fmt.Sprintf("part-file %v: %v", me.Op, me.Err)
	case FileNone:
		return fmt.Sprintf("%v: %v", me.Op, me.Err)
	}
	return fmt.Sprintf("file %v %v: %v", me.File, me.Op, me.Err)
}

func (me *Error) Unwrap() error {
	return me.Err
}

func newError(file int, op Operation, err error) error {
	if err == nil {
		return nil
	}
	// Keep the innermost tagging, it's the most specific.
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{File: file, Op: op, Err: err}
}
