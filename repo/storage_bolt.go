package repo

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultNamespace is the bucket documents are stored under.
const DefaultNamespace = "typewriter"

var (
	metaBucket  = []byte("meta")
	identityKey = []byte("name")
)

// BoltStorage keeps document snapshots in a bbolt file, one bucket per
// namespace.
type BoltStorage struct {
	db        *bolt.DB
	namespace []byte
}

func OpenBoltStorage(path string, namespace string) (*BoltStorage, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &BoltStorage{db: db, namespace: []byte(namespace)}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(s.namespace); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return s, nil
}

// DB exposes the underlying database so other stores can share the file.
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

func (s *BoltStorage) Load(ctx context.Context, id DocumentID) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(s.namespace).Get([]byte(id)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

func (s *BoltStorage) Save(ctx context.Context, id DocumentID, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.namespace).Put([]byte(id), data)
	})
}

func (s *BoltStorage) Remove(ctx context.Context, id DocumentID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.namespace).Delete([]byte(id))
	})
}

// Identity returns the persisted peer name, or "" when none was set.
func (s *BoltStorage) Identity() (string, error) {
	var name string
	err := s.db.View(func(tx *bolt.Tx) error {
		name = string(tx.Bucket(metaBucket).Get(identityKey))
		return nil
	})
	return name, err
}

func (s *BoltStorage) SetIdentity(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(identityKey, []byte(name))
	})
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}
