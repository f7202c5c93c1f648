// Package store provides a thin bbolt wrapper for meterstat's local data store.
//
// The store serves two roles: an offline object backend mirroring the
// bucket layout of the remote object store (so the whole pipeline can run
// against a laptop copy of the data), and the history of recompute runs.
//
// Buckets:
//
//	objects object envelopes keyed by their full object key
//	runs    recompute run records keyed by start time + run id
//	_meta   internal: schema version, created_at
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/derickschaefer/meterstat/internal/model"
)

// Current schema version. Bump when bucket layout or key format changes.
const schemaVersion = 2

// Bucket name constants.
var (
	bucketObjects  = []byte("objects")
	bucketRuns     = []byte("runs")
	bucketInternal = []byte("_meta")
)

// AllBuckets lists every user-facing bucket for stats and clear operations.
var AllBuckets = []string{"objects", "runs"}

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path.
// Parent directories are created automatically.
// Runs schema migrations on every open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

// OpenReadOnly opens an existing database with a shared lock, so several
// readers can hold it at once. Migrations are not run and writes fail.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true, Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path of the open database.
func (s *Store) Path() string {
	return s.db.Path()
}

// ─── Migrations ───────────────────────────────────────────────────────────────

// migrate ensures all buckets exist and schema is current. Version 1
// databases carried the buckets of an earlier layout; they are left in place
// and simply ignored.
func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketRuns, bucketInternal} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketInternal)
		if meta.Get([]byte("created_at")) == nil {
			if err := meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
				return err
			}
		}
		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

// ─── Objects ──────────────────────────────────────────────────────────────────

// storedObject is the on-disk envelope for one object.
type storedObject struct {
	Data         []byte    `json:"data"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// PutObject stores data under key, stamping LastModified with modTime
// (or now when modTime is zero).
func (s *Store) PutObject(key string, data []byte, contentType string, modTime time.Time) error {
	if key == "" {
		return fmt.Errorf("put object: empty key")
	}
	if modTime.IsZero() {
		modTime = time.Now()
	}
	b, err := json.Marshal(storedObject{
		Data:         data,
		ContentType:  contentType,
		LastModified: modTime.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding object: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Put([]byte(key), b)
	})
}

// GetObject retrieves an object by key.
// Returns (data, info, true, nil) if found, (nil, zero, false, nil) if not.
func (s *Store) GetObject(key string) ([]byte, model.ObjectInfo, bool, error) {
	var env storedObject
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &env)
	})
	if err != nil || !found {
		return nil, model.ObjectInfo{}, false, err
	}
	info := model.ObjectInfo{Key: key, Size: int64(len(env.Data)), LastModified: env.LastModified}
	return env.Data, info, true, nil
}

// ListObjects returns metadata for every object whose key starts with
// prefix, in key order. Pass prefix="" to list all objects.
func (s *Store) ListObjects(prefix string) ([]model.ObjectInfo, error) {
	p := []byte(prefix)
	var out []model.ObjectInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObjects).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var env storedObject
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("decoding object %s: %w", k, err)
			}
			out = append(out, model.ObjectInfo{
				Key:          string(k),
				Size:         int64(len(env.Data)),
				LastModified: env.LastModified,
			})
		}
		return nil
	})
	return out, err
}

// DeleteObject removes an object. Deleting a missing key is not an error.
func (s *Store) DeleteObject(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Delete([]byte(key))
	})
}

// ─── Runs ─────────────────────────────────────────────────────────────────────

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// runKey sorts runs chronologically: <RFC3339Nano start>|<id>.
func runKey(r model.RunRecord) []byte {
	return []byte(r.StartedAt.UTC().Format(time.RFC3339Nano) + "|" + r.ID)
}

// PutRun saves a run record, assigning an ID when empty.
func (s *Store) PutRun(r model.RunRecord) (model.RunRecord, error) {
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("encoding run: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Put(runKey(r), b)
	})
	return r, err
}

// GetRun retrieves a run by ID or by a unique ID prefix.
func (s *Store) GetRun(id string) (model.RunRecord, bool, error) {
	var matches []model.RunRecord
	err := s.forEachRun(func(r model.RunRecord) {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	})
	if err != nil {
		return model.RunRecord{}, false, err
	}
	switch len(matches) {
	case 0:
		return model.RunRecord{}, false, nil
	case 1:
		return matches[0], true, nil
	}
	return model.RunRecord{}, false, fmt.Errorf("run id %q is ambiguous (%d matches)", id, len(matches))
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]model.RunRecord, error) {
	var runs []model.RunRecord
	err := s.forEachRun(func(r model.RunRecord) { runs = append(runs, r) })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) forEachRun(fn func(model.RunRecord)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var r model.RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding run %s: %w", k, err)
			}
			fn(r)
			return nil
		})
	})
}

// ─── Stats & Maintenance ──────────────────────────────────────────────────────

// BucketStats holds row count and byte size for a single bucket.
type BucketStats struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Bytes int64  `json:"bytes"`
}

// Stats returns row counts and approximate sizes for all buckets.
func (s *Store) Stats() ([]BucketStats, error) {
	var stats []BucketStats
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range AllBuckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			var count int
			var size int64
			b.ForEach(func(k, v []byte) error {
				count++
				size += int64(len(k) + len(v))
				return nil
			})
			stats = append(stats, BucketStats{Name: name, Count: count, Bytes: size})
		}
		return nil
	})
	return stats, err
}

// ClearBucket deletes all entries in the named bucket.
func (s *Store) ClearBucket(name string) error {
	bname := []byte(name)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bname); err != nil {
			return fmt.Errorf("clearing bucket %s: %w", name, err)
		}
		_, err := tx.CreateBucket(bname)
		return err
	})
}

// ClearAll deletes all entries from every user-facing bucket.
func (s *Store) ClearAll() error {
	for _, name := range AllBuckets {
		if err := s.ClearBucket(name); err != nil {
			return err
		}
	}
	return nil
}
