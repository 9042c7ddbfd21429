package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// defaultBucket is the single bucket BoltKV uses; the flat KV keyspace
// already namespaces keys by colon-prefix, so one bucket is sufficient.
const defaultBucket = "correlate"

// BoltKV is the local single-node KV default (spec.md §6), modeled on the
// teacher's db/bolt.DB helper methods.
type BoltKV struct {
	db *bolt.DB
}

// OpenBoltKV opens or creates a bbolt-backed KV store at path.
func OpenBoltKV(path string) (*BoltKV, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt kv at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	return &BoltKV{db: db}, nil
}

func (k *BoltKV) PutJSON(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(defaultBucket)).Put([]byte(key), data)
	})
}

func (k *BoltKV) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	var found bool
	err := k.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(defaultBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, dest)
	})
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return found, nil
}

func (k *BoltKV) Delete(_ context.Context, key string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(defaultBucket)).Delete([]byte(key))
	})
}

func (k *BoltKV) Close() error {
	return k.db.Close()
}

// BoltBlob is the bbolt-backed Blob implementation for locally archived
// run reports.
type BoltBlob struct {
	db *bolt.DB
}

// NewBoltBlob wraps an already-open bbolt database, sharing the connection
// with a BoltKV opened against the same file when desired.
func NewBoltBlob(db *bolt.DB) (*BoltBlob, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("correlate_blobs"))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: create blob bucket: %w", err)
	}
	return &BoltBlob{db: db}, nil
}

func (b *BoltBlob) Put(_ context.Context, key string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("correlate_blobs")).Put([]byte(key), data)
	})
}

func (b *BoltBlob) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte("correlate_blobs")).Get([]byte(key))
		if data == nil {
			return nil
		}
		out = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: get blob %s: %w", key, err)
	}
	return out, out != nil, nil
}

func (b *BoltBlob) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("correlate_blobs")).Delete([]byte(key))
	})
}
