package storage

import (
	"hash"

	"github.com/anacrolix/torrentdisk/resume"
	"github.com/anacrolix/torrentdisk/settings"
)

// Hints for a read, write or hash.
type JobFlags uint8

const (
	// The data won't be needed again soon.
	FlagVolatileRead JobFlags = 1 << iota
	// Write the data back to disk now.
	FlagFlushPiece
	// The job is part of a sequential scan.
	FlagSequentialAccess
)

type MoveFlags int

const (
	// Overwrite files in the destination.
	AlwaysReplaceFiles MoveFlags = iota
	// Don't move anything if any file exists in the destination.
	FailIfExist
	// Keep files that already exist in the destination. Their sources are left in place.
	DontReplace
	// Only change the save path. The files there should be checked.
	ResetSavePath
	// Only change the save path.
	ResetSavePathUnchecked
)

type MoveStatus int

const (
	StatusNoError MoveStatus = iota
	// A file exists at the destination and FailIfExist or ResetSavePath was given.
	StatusFileExist
	// Files may have been partially moved.
	StatusFatalDiskError
	// The save path changed without moving anything, and piece data must be rechecked.
	StatusNeedFullCheck
)

type RemoveFlags int

const (
	// Remove the payload files, the part-file and empty directories.
	DeleteFiles RemoveFlags = 1 << iota
	// Remove only the part-file.
	DeletePartfile
)

type InitStatus uint8

const (
	// A deprioritized file on disk is larger than the torrent says it should be.
	OversizedFile InitStatus = 1 << iota
)

// A torrent's storage. Reads, writes and hashes may run concurrently. The other operations must
// not run concurrently with each other for the same storage.
type Interface interface {
	Read(s *settings.Settings, b []byte, piece, offset int, flags JobFlags) (int, error)
	// Writes to pad files are discarded.
	Write(s *settings.Settings, b []byte, piece, offset int, flags JobFlags) (int, error)
	// Feeds a region of a piece into a SHA-1 hash.
	Hash(s *settings.Settings, h hash.Hash, length, piece, offset int, flags JobFlags) (int, error)
	// Feeds a block into a SHA-256 hash.
	Hash2(s *settings.Settings, h hash.Hash, length, piece, offset int, flags JobFlags) (int, error)
	// Applies new file priorities. On error, prio is updated to reflect what was applied.
	SetFilePriority(s *settings.Settings, prio *[]Priority) error
	Initialize(s *settings.Settings) (InitStatus, error)
	RenameFile(index int, newName string) error
	MoveStorage(newPath string, flags MoveFlags) (MoveStatus, string, error)
	DeleteFiles(flags RemoveFlags) error
	VerifyResumeData(p resume.Params, links []string) (bool, error)
	// Flushes metadata and releases open files.
	ReleaseFiles() error
	// Called periodically. Returns whether it should keep being called.
	Tick() bool
	HasAnyFile() (bool, error)
	Close() error
}
