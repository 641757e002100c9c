package jobstore

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var jobsBucket = []byte("jobs")

// BoltStore keeps records in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the store file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open job store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(_ context.Context, id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Put([]byte(id), data)
	})
}

func (s *BoltStore) Get(_ context.Context, id string) (data []byte, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(jobsBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	return
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
