package filepool

import (
	"strings"
)

type OpenMode uint16

const ReadOnly OpenMode = 0

const (
	Write OpenMode = 1 << iota
	// Set the file to its expected size when opening.
	Truncate
	// Don't preallocate when truncating.
	Sparse
	NoAtime
	RandomAccess
	SequentialAccess
	Executable
	Hidden
	// Drop written pages from the OS cache.
	NoCache
	// Memory-map the file.
	Mmap
)

// The modes a cached handle must have to serve a request.
const compatibilityMask = Write | Mmap

// Whether a handle opened with have can serve a request for want.
func (have OpenMode) Satisfies(want OpenMode) bool {
	return have&compatibilityMask&want == want&compatibilityMask
}

var modeNames = []struct {
	mode OpenMode
	name string
}{
	{Write, "write"},
	{Truncate, "truncate"},
	{Sparse, "sparse"},
	{NoAtime, "no_atime"},
	{RandomAccess, "random_access"},
	{SequentialAccess, "sequential_access"},
	{Executable, "executable"},
	{Hidden, "hidden"},
	{NoCache, "no_cache"},
	{Mmap, "mmap"},
}

func (me OpenMode) String() string {
	if me == ReadOnly {
		return "read_only"
	}
	var parts []string
	for _, mn := range modeNames {
		if me&mn.mode != 0 {
			parts = append(parts, mn.name)
		}
	}
	return strings.Join(parts, "|")
}
