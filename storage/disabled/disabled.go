// Package disabled provides storage that discards writes and fails reads, for sessions that only
// need to exercise the network.
package disabled

import (
	"errors"
	"hash"

	"github.com/anacrolix/torrentdisk/resume"
	"github.com/anacrolix/torrentdisk/settings"
	"github.com/anacrolix/torrentdisk/storage"
)

var ErrDisabled = errors.New("disabled")

type Storage struct{}

var _ storage.Interface = Storage{}

func (Storage) Read(*settings.Settings, []byte, int, int, storage.JobFlags) (int, error) {
	return 0, ErrDisabled
}

func (Storage) Write(_ *settings.Settings, b []byte, _, _ int, _ storage.JobFlags) (int, error) {
	return len(b), nil
}

func (Storage) Hash(*settings.Settings, hash.Hash, int, int, int, storage.JobFlags) (int, error) {
	return 0, ErrDisabled
}

func (Storage) Hash2(*settings.Settings, hash.Hash, int, int, int, storage.JobFlags) (int, error) {
	return 0, ErrDisabled
}

func (Storage) SetFilePriority(*settings.Settings, *[]storage.Priority) error { return nil }

func (Storage) Initialize(*settings.Settings) (storage.InitStatus, error) { return 0, nil }

func (Storage) RenameFile(int, string) error { return nil }

func (Storage) MoveStorage(newPath string, _ storage.MoveFlags) (storage.MoveStatus, string, error) {
	return storage.StatusNoError, newPath, nil
}

func (Storage) DeleteFiles(storage.RemoveFlags) error { return nil }

func (Storage) VerifyResumeData(resume.Params, []string) (bool, error) { return false, nil }

func (Storage) ReleaseFiles() error { return nil }

func (Storage) Tick() bool { return false }

func (Storage) HasAnyFile() (bool, error) { return false, nil }

func (Storage) Close() error { return nil }
