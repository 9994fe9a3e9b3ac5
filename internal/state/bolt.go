package state

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/picklr-io/dockstate/internal/ir"
)

var (
	metaBucket      = []byte("meta")
	resourcesBucket = []byte("resources")
)

// boltBackend keeps resources in a bucket keyed by position, so iteration
// returns them in write order.
type boltBackend struct {
	db *bolt.DB
}

func newBoltBackend(path string) (*boltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt state %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, resourcesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bolt buckets: %w", err)
	}
	return &boltBackend{db: db}, nil
}

func positionKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

func (b *boltBackend) Read(ctx context.Context) (*ir.State, error) {
	st := ir.NewState()
	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if v := meta.Get([]byte("version")); v != nil {
			st.Version, _ = strconv.Atoi(string(v))
		}
		if v := meta.Get([]byte("serial")); v != nil {
			st.Serial, _ = strconv.Atoi(string(v))
		}
		st.Lineage = string(meta.Get([]byte("lineage")))

		return tx.Bucket(resourcesBucket).ForEach(func(_, v []byte) error {
			rs, err := decodeResource(v)
			if err != nil {
				return err
			}
			st.Resources = append(st.Resources, rs)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read bolt state: %w", err)
	}
	return st, nil
}

// Write replaces the stored document in one transaction.
func (b *boltBackend) Write(ctx context.Context, st *ir.State) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		for k, v := range map[string]string{
			"version": strconv.Itoa(st.Version),
			"serial":  strconv.Itoa(st.Serial),
			"lineage": st.Lineage,
		} {
			if err := meta.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}

		if err := tx.DeleteBucket(resourcesBucket); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(resourcesBucket)
		if err != nil {
			return err
		}
		for i, rs := range st.Resources {
			data, err := encodeResource(rs)
			if err != nil {
				return err
			}
			if err := bucket.Put(positionKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write bolt state: %w", err)
	}
	return nil
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}
