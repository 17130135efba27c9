package configstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"
)

const (
	boltFileMode   os.FileMode = 0o600
	boltBucketName             = "prefix_manager_snapshot"
)

var (
	boltTimeout        = 5 * time.Second
	defaultBoltOptions = &bbolt.Options{Timeout: boltTimeout, NoGrowSync: true}
	errBoltStoreClosed = errors.New("configstore: boltdb store is closed")
)

// BoltStore implements Client using go.etcd.io/bbolt for durable
// persistence: one bucket, one row per snapshot key, a write counter
// incremented on every successful Store, and file cleanup on Close when
// the store was opened with removeOnClose.
type BoltStore struct {
	db      *bbolt.DB
	bucket  []byte
	path    string
	closed  atomic.Bool
	writes  atomic.Uint64
	cleanup bool
}

var _ Client = (*BoltStore)(nil)

// NewBoltStore opens (or creates) a BoltDB-backed Client at path. If
// removeOnClose is true, Close deletes the backing file — useful for
// ephemeral test databases; production callers normally want the file
// to persist across restarts and should pass false.
func NewBoltStore(path string, removeOnClose bool) (*BoltStore, error) {
	optionsCopy := *defaultBoltOptions
	db, err := bbolt.Open(path, boltFileMode, &optionsCopy)
	if err != nil {
		return nil, fmt.Errorf("configstore: opening boltdb: %w", err)
	}

	bucket := []byte(boltBucketName)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucket)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configstore: initializing boltdb bucket: %w", err)
	}

	return &BoltStore{db: db, bucket: bucket, path: path, cleanup: removeOnClose}, nil
}

func (s *BoltStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	if err := ctxErr(ctx); err != nil {
		return nil, false, err
	}

	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return fmt.Errorf("configstore: bucket %q missing", s.bucket)
		}
		raw := bucket.Get([]byte(key))
		if raw != nil {
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (s *BoltStore) Store(ctx context.Context, key string, value []byte) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return fmt.Errorf("configstore: bucket %q missing", s.bucket)
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return err
	}
	s.writes.Add(1)
	return nil
}

func (s *BoltStore) Erase(ctx context.Context, key string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return fmt.Errorf("configstore: bucket %q missing", s.bucket)
		}
		return bucket.Delete([]byte(key))
	})
}

func (s *BoltStore) NumWritesToDisk() uint64 {
	return s.writes.Load()
}

// Close releases the underlying BoltDB handle.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	closeErr := s.db.Close()
	if !s.cleanup {
		return closeErr
	}
	removeErr := os.Remove(s.path)
	if closeErr != nil {
		if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			return errors.Join(closeErr, removeErr)
		}
		return closeErr
	}
	if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return removeErr
	}
	return nil
}

func (s *BoltStore) ensureOpen() error {
	if s.closed.Load() {
		return errBoltStoreClosed
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
