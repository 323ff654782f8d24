// Package settings holds the disk settings that are passed with every storage call.
package settings

import (
	"github.com/anacrolix/torrentdisk/internal/envx"
)

type MmapWriteMode int

const (
	// Use mmap for writes only on drives where it performs well.
	MmapWriteAuto MmapWriteMode = iota
	MmapWriteAlways
	MmapWriteNever
)

func (me MmapWriteMode) String() string {
	switch me {
	case MmapWriteAuto:
		return "auto"
	case MmapWriteAlways:
		return "always"
	case MmapWriteNever:
		return "never"
	}
	return "unknown"
}

type DiskWriteMode int

const (
	EnableOSCache DiskWriteMode = iota
	// Drop pages from the OS cache after they're written.
	DisableOSCache
	// Write back pages as soon as they're written.
	WriteThrough
)

func (me DiskWriteMode) String() string {
	switch me {
	case EnableOSCache:
		return "enable_os_cache"
	case DisableOSCache:
		return "disable_os_cache"
	case WriteThrough:
		return "write_through"
	}
	return "unknown"
}

type Settings struct {
	// Access files through memory mappings where possible.
	UseMmap bool
	// Files smaller than this are accessed with pread and pwrite even if UseMmap is set.
	MmapFileSizeCutoff int64
	MmapWrites         MmapWriteMode
	NoAtime            bool
	DiskWriteMode      DiskWriteMode
	// Maximum files held open by the pool.
	FileHandleLimit int
}

func Default() *Settings {
	return &Settings{
		UseMmap:            true,
		MmapFileSizeCutoff: 40 << 10,
		MmapWrites:         MmapWriteAuto,
		NoAtime:            true,
		DiskWriteMode:      EnableOSCache,
		FileHandleLimit:    40,
	}
}

const envPrefix = "TORRENTDISK_"

var (
	mmapWriteModes = map[string]MmapWriteMode{
		"auto":   MmapWriteAuto,
		"always": MmapWriteAlways,
		"never":  MmapWriteNever,
	}
	diskWriteModes = map[string]DiskWriteMode{
		"enable_os_cache":  EnableOSCache,
		"disable_os_cache": DisableOSCache,
		"write_through":    WriteThrough,
	}
)

// Returns a copy of base with values overridden by TORRENTDISK_ environment variables. Invalid
// values are logged and ignored.
func FromEnv(base *Settings) *Settings {
	ret := *base
	ret.UseMmap = envx.Boolean(ret.UseMmap, envPrefix+"USE_MMAP")
	ret.MmapFileSizeCutoff = envx.Bytes(ret.MmapFileSizeCutoff, envPrefix+"MMAP_FILE_SIZE_CUTOFF")
	ret.MmapWrites = envx.Enum(ret.MmapWrites, mmapWriteModes, envPrefix+"MMAP_WRITES")
	ret.NoAtime = envx.Boolean(ret.NoAtime, envPrefix+"NO_ATIME")
	ret.DiskWriteMode = envx.Enum(ret.DiskWriteMode, diskWriteModes, envPrefix+"DISK_WRITE_MODE")
	ret.FileHandleLimit = envx.Int(ret.FileHandleLimit, envPrefix+"FILE_HANDLE_LIMIT")
	return &ret
}
