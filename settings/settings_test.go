package settings

import (
	"testing"

	"github.com/go-quicktest/qt"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("TORRENTDISK_USE_MMAP", "false")
	t.Setenv("TORRENTDISK_MMAP_FILE_SIZE_CUTOFF", "1MiB")
	t.Setenv("TORRENTDISK_MMAP_WRITES", "never")
	t.Setenv("TORRENTDISK_DISK_WRITE_MODE", "write_through")
	t.Setenv("TORRENTDISK_FILE_HANDLE_LIMIT", "bogus")
	base := Default()
	s := FromEnv(base)
	qt.Check(t, qt.IsFalse(s.UseMmap))
	qt.Check(t, qt.Equals(s.MmapFileSizeCutoff, 1<<20))
	qt.Check(t, qt.Equals(s.MmapWrites, MmapWriteNever))
	qt.Check(t, qt.Equals(s.DiskWriteMode, WriteThrough))
	qt.Check(t, qt.Equals(s.FileHandleLimit, base.FileHandleLimit))
	// The base is left alone.
	qt.Check(t, qt.IsTrue(base.UseMmap))
}

func TestModeStrings(t *testing.T) {
	qt.Check(t, qt.Equals(MmapWriteAuto.String(), "auto"))
	qt.Check(t, qt.Equals(DisableOSCache.String(), "disable_os_cache"))
}
