package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anacrolix/torrentdisk/filepool"
	"github.com/anacrolix/torrentdisk/resume"
)

func (s *Storage) DeleteFiles(flags RemoveFlags) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.ReleaseStorage(s.index)
	// Drop the part-file without flushing, so its metadata isn't written back after removal.
	s.partFileMu.Lock()
	pf := s.partFile
	s.partFile = nil
	s.partFileMu.Unlock()
	if pf != nil {
		pf.Close()
	}
	if flags&DeleteFiles != 0 {
		var removed []int
		for i := range s.mapped.FileRange() {
			if s.mapped.PadFileAt(i) {
				continue
			}
			rmErr := os.Remove(s.mapped.FilePath(i, s.savePath))
			if rmErr == nil || errors.Is(rmErr, fs.ErrNotExist) {
				removed = append(removed, i)
				continue
			}
			// Carry on, and report the first failure.
			if err == nil {
				err = &Error{File: i, Op: OpFileRemove, Err: rmErr}
			}
		}
		removeEmptyDirs(s.mapped, s.savePath, removed)
	}
	rmErr := os.Remove(filepath.Join(s.savePath, s.partFileName()))
	if rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = &Error{File: FilePartfile, Op: OpFileRemove, Err: rmErr}
	}
	s.clearCreated()
	s.logger.Debug("deleted files", "save path", s.savePath, "flags", flags, "err", err)
	return
}

// Reports whether any payload file or the part-file is on disk.
func (s *Storage) HasAnyFile() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.mapped.FileRange() {
		if s.mapped.PadFileAt(i) {
			continue
		}
		fi, err := os.Lstat(s.mapped.FilePath(i, s.savePath))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, &Error{File: i, Op: OpFileStat, Err: err}
		}
		if fi.Mode()&fs.ModeSymlink != 0 || fi.Size() != 0 {
			return true, nil
		}
	}
	_, err := os.Stat(filepath.Join(s.savePath, s.partFileName()))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &Error{File: FilePartfile, Op: OpFileStat, Err: err}
}

// Checks the files on disk against resume data. links optionally gives, per file, an existing file
// to hard link into place first.
func (s *Storage) VerifyResumeData(p resume.Params, links []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(links) != 0 {
		err := s.createLinks(links)
		if err != nil {
			return false, err
		}
	}
	mismatches, err := resume.Verify(s.mapped, s.savePath, p)
	if err != nil {
		var fe *resume.FileError
		if errors.As(err, &fe) {
			return false, &Error{File: fe.File, Op: OpCheckResume, Err: fe.Err}
		}
		return false, &Error{File: FileNone, Op: OpCheckResume, Err: err}
	}
	for _, m := range mismatches {
		s.logger.Debug("resume data mismatch", "file", m.File, "reason", m.Reason)
	}
	return len(mismatches) == 0, nil
}

func (s *Storage) createLinks(links []string) error {
	if len(links) != s.mapped.NumFiles() {
		return &Error{
			File: FileNone,
			Op:   OpHardLink,
			Err:  errors.New("links don't match files"),
		}
	}
	for i, src := range links {
		if src == "" || s.mapped.PadFileAt(i) {
			continue
		}
		dst := s.mapped.FilePath(i, s.savePath)
		err := os.MkdirAll(filepath.Dir(dst), filepool.DirPerm)
		if err != nil {
			return &Error{File: i, Op: OpMkdir, Err: err}
		}
		err = os.Link(src, dst)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return &Error{File: i, Op: OpHardLink, Err: err}
		}
	}
	return nil
}
