package resume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var resumeBucket = []byte("resume")

// Each file is stored as a big-endian size followed by mtime.
const fileStateSize = 16

// Persists Params keyed by info-hash.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(resumeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db}, nil
}

func (me *BoltStore) Close() error {
	return me.db.Close()
}

func encodeParams(p Params) []byte {
	b := make([]byte, fileStateSize*len(p.Files))
	for i, f := range p.Files {
		binary.BigEndian.PutUint64(b[i*fileStateSize:], uint64(f.Size))
		binary.BigEndian.PutUint64(b[i*fileStateSize+8:], uint64(f.Mtime))
	}
	return b
}

func decodeParams(b []byte) (p Params, err error) {
	if len(b)%fileStateSize != 0 {
		err = fmt.Errorf("resume data length %v is not a multiple of %v", len(b), fileStateSize)
		return
	}
	p.Files = make([]FileState, len(b)/fileStateSize)
	for i := range p.Files {
		p.Files[i] = FileState{
			Size:  int64(binary.BigEndian.Uint64(b[i*fileStateSize:])),
			Mtime: int64(binary.BigEndian.Uint64(b[i*fileStateSize+8:])),
		}
	}
	return
}

func (me *BoltStore) Save(infoHash []byte, p Params) error {
	return me.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(resumeBucket).Put(infoHash, encodeParams(p))
	})
}

var ErrNotFound = errors.New("no resume data")

func (me *BoltStore) Load(infoHash []byte) (p Params, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(resumeBucket).Get(infoHash)
		if b == nil {
			return ErrNotFound
		}
		// b is only valid for the life of the transaction, decoding copies it.
		p, err = decodeParams(b)
		return err
	})
	return
}

func (me *BoltStore) Delete(infoHash []byte) error {
	return me.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(resumeBucket).Delete(infoHash)
	})
}
