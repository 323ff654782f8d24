package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anacrolix/torrentdisk/filepool"
	"github.com/anacrolix/torrentdisk/filestorage"
	"github.com/anacrolix/torrentdisk/settings"
)

func (s *Storage) SetFilePriority(st *settings.Settings, prio *[]Priority) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if err != nil {
			*prio = s.prioritiesLocked()
		}
	}()
	for i, newPrio := range *prio {
		if i >= s.files.NumFiles() {
			break
		}
		// Pad files are never stored, whatever their priority.
		if s.mapped.PadFileAt(i) {
			continue
		}
		oldPrio := s.priority(i)
		switch {
		case oldPrio == DontDownload && newPrio != DontDownload:
			if s.usesPartFile(i) {
				err = s.exportFromPartFile(st, i)
				if err != nil {
					return
				}
			}
			s.setUsePartFile(i, false)
		case oldPrio != DontDownload && newPrio == DontDownload:
			// Data already in the real file stays there.
			var exists bool
			exists, err = s.fileExists(i)
			if err != nil {
				return
			}
			s.setUsePartFile(i, !exists)
		}
		s.setPriority(i, newPrio)
	}
	if pf := s.loadedPartFile(); pf != nil {
		err = newError(FilePartfile, OpPartfileWrite, pf.FlushMetadata())
	}
	return
}

func (s *Storage) prioritiesLocked() []Priority {
	ret := make([]Priority, s.files.NumFiles())
	for i := range ret {
		ret[i] = s.priority(i)
	}
	return ret
}

func (s *Storage) setPriority(file int, prio Priority) {
	for len(s.priorities) <= file {
		s.priorities = append(s.priorities, DefaultPriority)
	}
	s.priorities[file] = prio
}

func (s *Storage) fileExists(file int) (bool, error) {
	_, err := os.Stat(s.mapped.FilePath(file, s.savePath))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{File: file, Op: OpFileStat, Err: err}
	}
	return true, nil
}

// Copies any of the file's data in the part-file into the real file.
func (s *Storage) exportFromPartFile(st *settings.Settings, file int) (err error) {
	size := s.mapped.FileSize(file)
	if size == 0 {
		return nil
	}
	pf, err := s.getPartFile()
	if err != nil {
		return newError(file, OpPartfileWrite, err)
	}
	if pf.Empty() {
		return nil
	}
	var h *filepool.Handle
	defer func() {
		if h != nil {
			h.Close()
		}
	}()
	err = pf.ExportFile(func(off int64, b []byte) error {
		if h == nil {
			var err error
			h, err = s.openFile(st, file, true, 0)
			if err != nil {
				return err
			}
		}
		_, err := writeHandle(h, b, off)
		return newError(file, OpFileWrite, err)
	}, s.mapped.FileOffset(file), size)
	return newError(file, OpPartfileWrite, err)
}

func (s *Storage) Initialize(st *settings.Settings) (status InitStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drive = probeDrive(s.savePath)
	s.logger.Debug("initializing storage", "save path", s.savePath, "drive", s.drive)
	for i := range s.mapped.FileRange() {
		f := s.mapped.File(i)
		if f.PadFile() {
			continue
		}
		path := s.mapped.FilePath(i, s.savePath)
		if s.priority(i) == DontDownload {
			var fi os.FileInfo
			fi, err = os.Stat(path)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				err = &Error{File: i, Op: OpFileStat, Err: err}
				return
			}
			// Files from before part-files were used keep their data where it is.
			hasData := err == nil && fi.Size() != 0
			err = nil
			s.setUsePartFile(i, !hasData)
			if hasData && fi.Size() > f.Size {
				s.logger.Warn("deprioritized file is larger than expected",
					"file", i,
					"size", fi.Size(),
					"expected", f.Size)
				status |= OversizedFile
			}
			continue
		}
		if f.Flags&filestorage.FlagSymlink != 0 {
			err = s.createSymlink(i)
			if err != nil {
				return
			}
			continue
		}
		err = s.createFile(st, i, path, f.Size)
		if err != nil {
			return
		}
	}
	return
}

// Creates a missing or empty file at its full size. Existing files are left alone, and existing
// empty files are never truncated.
func (s *Storage) createFile(st *settings.Settings, file int, path string, size int64) error {
	fi, err := os.Stat(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{File: file, Op: OpFileStat, Err: err}
	}
	if err == nil && (fi.Size() != 0 || size == 0) {
		return nil
	}
	if size == 0 {
		return createEmptyFile(file, path)
	}
	h, err := s.openFile(st, file, true, 0)
	if err != nil {
		return err
	}
	return h.Close()
}

func createEmptyFile(file int, path string) error {
	err := os.MkdirAll(filepath.Dir(path), filepool.DirPerm)
	if err != nil {
		return &Error{File: file, Op: OpMkdir, Err: err}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, filepool.FilePerm)
	if err != nil {
		return &Error{File: file, Op: OpFileOpen, Err: err}
	}
	return newError(file, OpFileOpen, f.Close())
}

// Creates the file as a symlink, relative to its directory. An existing link must already point to
// the right place.
func (s *Storage) createSymlink(file int) error {
	path := s.mapped.FilePath(file, s.savePath)
	target, err := filepath.Rel(
		filepath.Dir(path),
		filepath.Join(s.savePath, s.mapped.Symlink(file)))
	if err != nil {
		return &Error{File: file, Op: OpSymlink, Err: err}
	}
	existing, err := os.Readlink(path)
	if err == nil {
		if existing == target {
			return nil
		}
		return &Error{
			File: file,
			Op:   OpSymlink,
			Err:  fmt.Errorf("existing link points to %q, expected %q: %w", existing, target, fs.ErrExist),
		}
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return &Error{File: file, Op: OpSymlink, Err: err}
	}
	err = os.MkdirAll(filepath.Dir(path), filepool.DirPerm)
	if err != nil {
		return &Error{File: file, Op: OpMkdir, Err: err}
	}
	return newError(file, OpSymlink, os.Symlink(target, path))
}
