package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"
)

const cacheBucket = "embedding_cache"

// BoltCache is the default embedding-vector cache (spec.md §4.4/§6),
// file-backed via go.etcd.io/bbolt exactly as the teacher's db/bolt.DB
// wraps it, bucketed by the single content-addressed keyspace
// `hex(fingerprint) + ":" + hex(model_id)`.
type BoltCache struct {
	db *bolt.DB
}

// OpenBoltCache opens or creates a bbolt-backed embedding cache at path.
func OpenBoltCache(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt cache at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create cache bucket: %w", err)
	}
	return &BoltCache{db: db}, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func (c *BoltCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	var out []float32
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(cacheBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		out = decodeVector(data)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: cache get %s: %w", key, err)
	}
	return out, out != nil, nil
}

func (c *BoltCache) Put(_ context.Context, key string, vector []float32) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Put([]byte(key), encodeVector(vector))
	})
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
