// Package storage reads and writes torrent pieces to the files they belong to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"

	"github.com/anacrolix/torrentdisk/filepool"
	"github.com/anacrolix/torrentdisk/filestorage"
	"github.com/anacrolix/torrentdisk/partfile"
)

var nextStorageIndex atomic.Uint32

// File-backed storage for a single torrent. Files are accessed through a shared Pool.
type Storage struct {
	index      filepool.StorageIndex
	pool       *filepool.Pool
	logger     *slog.Logger
	infoHash   []byte
	files      *filestorage.FileStorage
	allocation AllocationMode
	partFiles  bool

	// Held for reading by reads, writes and hashes. Held for writing by everything else.
	mu sync.RWMutex
	// files, or a remapped copy once anything has been renamed.
	mapped     *filestorage.FileStorage
	savePath   string
	priorities []Priority
	// Whether deprioritized files are stored in the part-file. Indexes past the end are true.
	usePartFile []bool
	drive       driveType

	partFileMu sync.Mutex
	partFile   *partfile.PartFile

	// Files that have been set to their full size since the storage was opened.
	createdMu sync.Mutex
	created   roaring.Bitmap
}

var _ Interface = (*Storage)(nil)

func Open(ctx context.Context, p Params, pool *filepool.Pool) (*Storage, error) {
	if p.Files == nil {
		return nil, errors.New("no file layout")
	}
	if p.MappedFiles != nil && p.MappedFiles.NumFiles() != p.Files.NumFiles() {
		return nil, fmt.Errorf(
			"mapped files has %v files, expected %v",
			p.MappedFiles.NumFiles(), p.Files.NumFiles())
	}
	if p.Logger == nil {
		p.Logger = log.ContextLogger(ctx).Slogger()
	}
	s := &Storage{
		index:      filepool.StorageIndex(nextStorageIndex.Add(1)),
		pool:       pool,
		logger:     p.Logger,
		infoHash:   slices.Clone(p.InfoHash),
		files:      p.Files,
		allocation: p.Allocation,
		partFiles:  p.UsePartFiles.UnwrapOr(true),
		mapped:     p.MappedFiles,
		savePath:   p.SavePath,
		priorities: slices.Clone(p.Priorities),
		drive:      driveUnknown,
	}
	if s.mapped == nil {
		s.mapped = p.Files
	}
	s.logger.DebugContext(ctx, "opened torrent storage",
		"save path", s.savePath,
		"files", s.files.NumFiles(),
		"pieces", s.files.NumPieces())
	return s, nil
}

// The files as currently named.
func (s *Storage) Files() *filestorage.FileStorage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapped
}

func (s *Storage) SavePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savePath
}

func (s *Storage) Priorities() []Priority {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prioritiesLocked()
}

func (s *Storage) priority(file int) Priority {
	if file < len(s.priorities) {
		return s.priorities[file]
	}
	return DefaultPriority
}

func (s *Storage) usesPartFile(file int) bool {
	if !s.partFiles {
		return false
	}
	return file >= len(s.usePartFile) || s.usePartFile[file]
}

func (s *Storage) setUsePartFile(file int, b bool) {
	for len(s.usePartFile) <= file {
		s.usePartFile = append(s.usePartFile, true)
	}
	s.usePartFile[file] = b
}

func (s *Storage) isCreated(file int) bool {
	s.createdMu.Lock()
	defer s.createdMu.Unlock()
	return s.created.Contains(uint32(file))
}

func (s *Storage) setCreated(file int) {
	s.createdMu.Lock()
	defer s.createdMu.Unlock()
	s.created.Add(uint32(file))
}

func (s *Storage) clearCreated() {
	s.createdMu.Lock()
	defer s.createdMu.Unlock()
	s.created.Clear()
}

func (s *Storage) fileKey(file int) filepool.FileKey {
	return filepool.FileKey{Storage: s.index, File: file}
}

// Returns the part-file, loading it if necessary.
func (s *Storage) getPartFile() (*partfile.PartFile, error) {
	s.partFileMu.Lock()
	defer s.partFileMu.Unlock()
	if s.partFile != nil {
		return s.partFile, nil
	}
	pf, err := partfile.Open(partfile.Opts{
		Dir:       s.savePath,
		Name:      s.partFileName(),
		NumPieces: s.files.NumPieces(),
		PieceSize: s.files.PieceLength(),
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}
	s.partFile = pf
	return pf, nil
}

// The part-file if it has been loaded.
func (s *Storage) loadedPartFile() *partfile.PartFile {
	s.partFileMu.Lock()
	defer s.partFileMu.Unlock()
	return s.partFile
}

func (s *Storage) partFileName() string {
	return partfile.Name(s.infoHash)
}

// Flushes part-file metadata. Returns whether there's more to do.
func (s *Storage) Tick() bool {
	pf := s.loadedPartFile()
	if pf == nil {
		return false
	}
	err := pf.FlushMetadata()
	if err != nil {
		s.logger.Warn("flushing part-file metadata", "err", err)
		return true
	}
	return false
}

func (s *Storage) ReleaseFiles() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseFilesLocked()
}

func (s *Storage) releaseFilesLocked() (err error) {
	if pf := s.loadedPartFile(); pf != nil {
		err = pf.FlushMetadata()
		if err != nil {
			err = &Error{File: FilePartfile, Op: OpPartfileWrite, Err: err}
		}
		err = errors.Join(err, pf.Close())
	}
	s.pool.ReleaseStorage(s.index)
	return
}

// Releases files and flushes metadata. The storage shouldn't be used after.
func (s *Storage) Close() error {
	return s.ReleaseFiles()
}
