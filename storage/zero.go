package storage

import (
	"hash"

	"github.com/anacrolix/torrentdisk/filestorage"
	"github.com/anacrolix/torrentdisk/resume"
	"github.com/anacrolix/torrentdisk/settings"
)

// Storage that reads zeroes and discards writes. For benchmarking everything above the disk.
type Zero struct {
	files *filestorage.FileStorage
}

var _ Interface = Zero{}

func NewZero(files *filestorage.FileStorage) Zero {
	return Zero{files}
}

// The length of the region that lies within the torrent.
func (z Zero) clamp(piece, offset, length int) int {
	return int(min(int64(length), z.files.PieceSize(piece)-int64(offset)))
}

func (z Zero) Read(_ *settings.Settings, b []byte, piece, offset int, _ JobFlags) (int, error) {
	n := z.clamp(piece, offset, len(b))
	clear(b[:n])
	return n, nil
}

func (z Zero) Write(_ *settings.Settings, b []byte, piece, offset int, _ JobFlags) (int, error) {
	return z.clamp(piece, offset, len(b)), nil
}

func (z Zero) Hash(_ *settings.Settings, h hash.Hash, length, piece, offset int, _ JobFlags) (int, error) {
	n := z.clamp(piece, offset, length)
	hashZeros(h, n)
	return n, nil
}

func (z Zero) Hash2(st *settings.Settings, h hash.Hash, length, piece, offset int, flags JobFlags) (int, error) {
	return z.Hash(st, h, length, piece, offset, flags)
}

func (Zero) SetFilePriority(*settings.Settings, *[]Priority) error { return nil }

func (Zero) Initialize(*settings.Settings) (InitStatus, error) { return 0, nil }

func (Zero) RenameFile(int, string) error { return nil }

func (Zero) MoveStorage(newPath string, _ MoveFlags) (MoveStatus, string, error) {
	return StatusNoError, newPath, nil
}

func (Zero) DeleteFiles(RemoveFlags) error { return nil }

func (Zero) VerifyResumeData(resume.Params, []string) (bool, error) { return false, nil }

func (Zero) ReleaseFiles() error { return nil }

func (Zero) Tick() bool { return false }

func (Zero) HasAnyFile() (bool, error) { return false, nil }

func (Zero) Close() error { return nil }
