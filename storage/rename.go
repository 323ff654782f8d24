package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/anacrolix/torrentdisk/filepool"
)

// Renames a file. If the file doesn't exist yet, only the name is changed and the file is created
// with it when it's first written.
func (s *Storage) RenameFile(index int, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newMapped := s.mapped.Clone()
	newMapped.RenameFile(index, newName)
	oldPath := s.mapped.FilePath(index, s.savePath)
	newPath := newMapped.FilePath(index, s.savePath)
	if oldPath != newPath {
		_, err := os.Lstat(oldPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &Error{File: index, Op: OpFileStat, Err: err}
		}
		if err == nil {
			s.pool.Release(s.fileKey(index))
			err = os.MkdirAll(filepath.Dir(newPath), filepool.DirPerm)
			if err != nil {
				return &Error{File: index, Op: OpMkdir, Err: err}
			}
			err = renameOrCopy(oldPath, newPath)
			if err != nil {
				return &Error{File: index, Op: OpFileRename, Err: err}
			}
		}
	}
	s.logger.Debug("renamed file", "file", index, "from", oldPath, "to", newPath)
	s.mapped = newMapped
	return nil
}

// Renames a file, copying and removing it if renaming fails, such as across filesystems.
func renameOrCopy(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	renameErr := err
	fi, err := os.Lstat(src)
	if err != nil {
		return renameErr
	}
	if !fi.Mode().IsRegular() {
		return renameErr
	}
	err = copyFile(dst, src, fi.Mode().Perm())
	if err != nil {
		return errors.Join(renameErr, err)
	}
	return os.Remove(src)
}

func copyFile(dst, src string, perm os.FileMode) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	err = atomic.WriteFile(dst, f)
	if err != nil {
		return err
	}
	return os.Chmod(dst, perm)
}
