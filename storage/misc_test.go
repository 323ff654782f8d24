package storage

import (
	"crypto/sha1"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/torrentdisk/filestorage"
	"github.com/anacrolix/torrentdisk/resume"
	"github.com/anacrolix/torrentdisk/settings"
)

type fakeFault struct{}

func (fakeFault) Error() string { return "fake fault" }
func (fakeFault) Addr() uintptr { return 0xdead }
func (fakeFault) RuntimeError() {}

func TestFaultsBecomeErrors(t *testing.T) {
	before := mmapFaults.Value()
	err := protectFaults(true, func() { panic(fakeFault{}) })
	qt.Check(t, qt.ErrorIs(err, syscall.ENOSPC))
	err = protectFaults(false, func() { panic(fakeFault{}) })
	qt.Check(t, qt.ErrorIs(err, syscall.EIO))
	qt.Check(t, qt.Equals(mmapFaults.Value(), before+2))
	assert.PanicsWithValue(t, "not a fault", func() {
		protectFaults(false, func() { panic("not a fault") })
	})
	n, err := copyMapped(make([]byte, 3), []byte("abc"), false)
	qt.Check(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(n, 3))
}

func TestErrorString(t *testing.T) {
	err := &Error{File: 3, Op: OpFileWrite, Err: syscall.ENOSPC}
	qt.Check(t, qt.Equals(err.Error(), "file 3 write: no space left on device"))
	qt.Check(t, qt.ErrorIs(error(err), syscall.ENOSPC))
	pf := &Error{File: FilePartfile, Op: OpPartfileRead, Err: syscall.EIO}
	qt.Check(t, qt.Equals(pf.Error(), "part-file partfile read: input/output error"))
	qt.Check(t, qt.Equals(Operation(99).String(), "Operation(99)"))
	// The innermost tag is kept.
	wrapped := newError(FilePartfile, OpPartfileRead, err)
	var se *Error
	require.True(t, errors.As(wrapped, &se))
	qt.Check(t, qt.Equals(se.File, 3))
	qt.Check(t, qt.IsNil(newError(0, OpFileRead, nil)))
}

func TestVerifyResumeData(t *testing.T) {
	st := settings.Default()
	s := newTestStorage(t, []filestorage.File{
		{Path: "a", Size: 10},
		{Path: "b", Size: 10},
	})
	_, err := s.Write(st, make([]byte, 20), 0, 0, 0)
	require.NoError(t, err)
	p, err := resume.Capture(s.Files(), s.SavePath())
	require.NoError(t, err)
	ok, err := s.VerifyResumeData(p, nil)
	require.NoError(t, err)
	qt.Check(t, qt.IsTrue(ok))
	require.NoError(t, os.Truncate(s.testPath(1), 5))
	ok, err = s.VerifyResumeData(p, nil)
	require.NoError(t, err)
	qt.Check(t, qt.IsFalse(ok))
}

func TestVerifyResumeDataLinks(t *testing.T) {
	s := newTestStorage(t, []filestorage.File{
		{Path: filepath.Join("d", "a"), Size: 4},
		{Path: "b", Size: 4},
	})
	src := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))
	p := resume.Params{Files: []resume.FileState{{Size: 4}, {}}}
	ok, err := s.VerifyResumeData(p, []string{src, ""})
	require.NoError(t, err)
	qt.Check(t, qt.IsTrue(ok))
	b, err := os.ReadFile(s.testPath(0))
	require.NoError(t, err)
	qt.Check(t, qt.Equals(string(b), "data"))
	_, err = s.VerifyResumeData(p, []string{src})
	var se *Error
	require.True(t, errors.As(err, &se))
	qt.Check(t, qt.Equals(se.Op, OpHardLink))
}

func TestHasAnyFileIgnoresEmptyFiles(t *testing.T) {
	s := newTestStorage(t, []filestorage.File{{Path: "a", Size: 10}})
	has, err := s.HasAnyFile()
	require.NoError(t, err)
	qt.Check(t, qt.IsFalse(has))
	require.NoError(t, os.WriteFile(s.testPath(0), nil, 0o644))
	has, err = s.HasAnyFile()
	require.NoError(t, err)
	qt.Check(t, qt.IsFalse(has))
}

func TestZero(t *testing.T) {
	layout, err := filestorage.New(testPieceLength, []filestorage.File{{Path: "a", Size: testPieceLength + 10}})
	require.NoError(t, err)
	var z Interface = NewZero(layout)
	b := []byte("junk")
	n, err := z.Read(nil, b, 0, 0, 0)
	require.NoError(t, err)
	qt.Check(t, qt.Equals(n, 4))
	qt.Check(t, qt.DeepEquals(b, make([]byte, 4)))
	// The last piece is short.
	n, err = z.Write(nil, make([]byte, 100), 1, 0, 0)
	require.NoError(t, err)
	qt.Check(t, qt.Equals(n, 10))
	h := sha1.New()
	n, err = z.Hash(nil, h, testPieceLength, 0, 0, 0)
	require.NoError(t, err)
	qt.Check(t, qt.Equals(n, testPieceLength))
	want := sha1.Sum(make([]byte, testPieceLength))
	qt.Check(t, qt.DeepEquals(h.Sum(nil), want[:]))
}

func TestDriveMmapPreference(t *testing.T) {
	qt.Check(t, qt.IsTrue(driveSolidState.prefersMmapWrites()))
	qt.Check(t, qt.IsTrue(driveDAX.prefersMmapWrites()))
	qt.Check(t, qt.IsFalse(driveRotational.prefersMmapWrites()))
	qt.Check(t, qt.IsFalse(driveRemote.prefersMmapWrites()))
	qt.Check(t, qt.IsFalse(driveUnknown.prefersMmapWrites()))
	// Probing a path that doesn't exist yet looks at its nearest existing parent.
	probeDrive(filepath.Join(t.TempDir(), "not", "yet"))
}

func TestOpenModeFromSettings(t *testing.T) {
	s := newTestStorage(t, []filestorage.File{
		{Path: "big", Size: 1 << 20, Flags: filestorage.FlagExecutable},
		{Path: "small", Size: 10},
	})
	st := settings.Default()
	st.MmapWrites = settings.MmapWriteAlways
	st.DiskWriteMode = settings.DisableOSCache
	mode := s.openMode(st, 0, true, FlagSequentialAccess)
	qt.Check(t, qt.Equals(mode.String(), "write|sparse|no_atime|sequential_access|executable|no_cache|mmap"))
	mode = s.openMode(st, 1, false, 0)
	qt.Check(t, qt.Equals(mode.String(), "no_atime|random_access|no_cache"))
	st.UseMmap = false
	qt.Check(t, qt.IsFalse(s.useMmap(st, 0)))
}
