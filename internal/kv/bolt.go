package kv

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucket = []byte("menuprice")

// BoltStore keeps every key in a single bbolt bucket.
type BoltStore struct {
	DB *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

func OpenBolt(filePath string) (*BoltStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("bolt store: empty path")
	}
	db, err := bbolt.Open(filePath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("could not create bucket: %s, err: %w", string(bucket), err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{DB: db}, nil
}

func (b *BoltStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := b.DB.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v != nil {
			// v is only valid for the life of the transaction
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *BoltStore) Set(key string, value []byte) error {
	return b.DB.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), value)
	})
}

func (b *BoltStore) Close() error {
	return b.DB.Close()
}
