package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/anacrolix/torrentdisk/filepool"
	"github.com/anacrolix/torrentdisk/filestorage"
)

// Files moved at once by MoveStorage.
const moveParallelism = 4

// Moves the torrent's files and part-file to newPath. Returns the save path in use afterwards.
func (s *Storage) MoveStorage(newPath string, flags MoveFlags) (status MoveStatus, savePath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	newPath, err = filepath.Abs(newPath)
	if err != nil {
		return StatusFatalDiskError, s.savePath, &Error{File: FileNone, Op: OpFileStat, Err: err}
	}
	s.pool.ReleaseStorage(s.index)
	switch flags {
	case ResetSavePath, ResetSavePathUnchecked:
		err = s.closePartFile()
		if err != nil {
			return StatusFatalDiskError, s.savePath, err
		}
		s.savePath = newPath
		s.clearCreated()
		if flags == ResetSavePath {
			return StatusNeedFullCheck, s.savePath, nil
		}
		return StatusNoError, s.savePath, nil
	}
	if newPath == s.savePath {
		return StatusNoError, s.savePath, nil
	}
	if flags == FailIfExist {
		for i := range s.mapped.FileRange() {
			if s.mapped.PadFileAt(i) {
				continue
			}
			_, err = os.Lstat(s.mapped.FilePath(i, newPath))
			if err == nil {
				return StatusFileExist, s.savePath, &Error{File: i, Op: OpFileStat, Err: fs.ErrExist}
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return StatusFatalDiskError, s.savePath, &Error{File: i, Op: OpFileStat, Err: err}
			}
		}
		err = nil
	}
	moved, err := moveFiles(s.mapped, s.savePath, newPath, flags)
	if err != nil {
		rollbackMoves(s.mapped, s.savePath, newPath, moved)
		return StatusFatalDiskError, s.savePath, err
	}
	pf, err := s.getPartFile()
	if err == nil {
		err = pf.Move(newPath)
	}
	err = newError(FilePartfile, OpPartfileMove, err)
	if err != nil {
		rollbackMoves(s.mapped, s.savePath, newPath, moved)
		return StatusFatalDiskError, s.savePath, err
	}
	removeEmptyDirs(s.mapped, s.savePath, moved)
	s.logger.Debug("moved storage", "from", s.savePath, "to", newPath, "files", len(moved))
	s.savePath = newPath
	return StatusNoError, s.savePath, nil
}

// Moves each file from oldPath to newPath. Returns the files that were moved.
func moveFiles(files *filestorage.FileStorage, oldPath, newPath string, flags MoveFlags) (moved []int, err error) {
	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(moveParallelism)
	for i := range files.FileRange() {
		if files.PadFileAt(i) {
			continue
		}
		eg.Go(func() error {
			ok, err := moveFile(i, files.FilePath(i, oldPath), files.FilePath(i, newPath), flags)
			if ok {
				mu.Lock()
				moved = append(moved, i)
				mu.Unlock()
			}
			return err
		})
	}
	err = eg.Wait()
	slices.Sort(moved)
	return
}

func moveFile(file int, src, dst string, flags MoveFlags) (moved bool, err error) {
	if src == dst {
		return false, nil
	}
	_, err = os.Lstat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{File: file, Op: OpFileStat, Err: err}
	}
	if flags == DontReplace {
		_, err = os.Lstat(dst)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, &Error{File: file, Op: OpFileStat, Err: err}
		}
	}
	err = os.MkdirAll(filepath.Dir(dst), filepool.DirPerm)
	if err != nil {
		return false, &Error{File: file, Op: OpMkdir, Err: err}
	}
	err = renameOrCopy(src, dst)
	if err != nil {
		return false, &Error{File: file, Op: OpFileRename, Err: err}
	}
	return true, nil
}

// Best effort return of moved files after a failure.
func rollbackMoves(files *filestorage.FileStorage, oldPath, newPath string, moved []int) {
	for _, i := range moved {
		renameOrCopy(files.FilePath(i, newPath), files.FilePath(i, oldPath))
	}
	removeEmptyDirs(files, newPath, moved)
}

// Removes directories under root that held the given files, if they're now empty.
func removeEmptyDirs(files *filestorage.FileStorage, root string, indices []int) {
	dirs := make(map[string]struct{})
	for _, i := range indices {
		for dir := filepath.Dir(files.FilePath(i, root)); isSubPath(root, dir); dir = filepath.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(dirs))
	for dir := range dirs {
		sorted = append(sorted, dir)
	}
	// Deepest first.
	slices.SortFunc(sorted, func(a, b string) int {
		return len(b) - len(a)
	})
	for _, dir := range sorted {
		// Fails for directories that aren't empty.
		os.Remove(dir)
	}
}

// Whether path is strictly inside root.
func isSubPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && rel != ".." && !filepath.IsAbs(rel) &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Storage) closePartFile() error {
	s.partFileMu.Lock()
	pf := s.partFile
	s.partFile = nil
	s.partFileMu.Unlock()
	if pf == nil {
		return nil
	}
	err := newError(FilePartfile, OpPartfileWrite, pf.FlushMetadata())
	return errors.Join(err, pf.Close())
}
