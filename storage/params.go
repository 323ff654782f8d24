package storage

import (
	"log/slog"

	g "github.com/anacrolix/generics"

	"github.com/anacrolix/torrentdisk/filestorage"
)

type AllocationMode int

const (
	// Files are extended without allocating blocks.
	AllocateSparse AllocationMode = iota
	// Blocks are reserved when files are first written. Ignored on remote drives.
	AllocateFull
)

type Priority uint8

const (
	DontDownload    Priority = 0
	DefaultPriority Priority = 4
	TopPriority     Priority = 7
)

// Everything needed to construct a Storage.
type Params struct {
	Files *filestorage.FileStorage
	// Overrides Files, for torrents with renamed files.
	MappedFiles *filestorage.FileStorage
	SavePath    string
	InfoHash    []byte
	// Per file. Missing entries are DefaultPriority.
	Priorities []Priority
	Allocation AllocationMode
	// Data for files that aren't downloaded goes to a part-file. Defaults to true. When false such
	// data is written to the files themselves.
	UsePartFiles g.Option[bool]
	Logger       *slog.Logger
}
