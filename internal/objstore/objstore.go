// Package objstore is the object-storage boundary of meterstat.
//
// Every component that touches raw measurements, calendars or published
// statistics does so through the Store interface. Backends:
//
//	S3      any S3-compatible service via minio-go
//	Bolt    the local bbolt database (offline copies, tests)
//	Memory  in-process map (unit tests)
//	Guarded rate limit + circuit breaker around another Store
package objstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/derickschaefer/meterstat/internal/model"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a flat key/value object store with '/'-separated key hierarchy.
type Store interface {
	// Get returns the object body, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every object under prefix (recursively), sorted by key.
	List(ctx context.Context, prefix string) ([]model.ObjectInfo, error)
	// Prefixes returns the immediate child "directories" of prefix, each
	// ending in '/', sorted.
	Prefixes(ctx context.Context, prefix string) ([]string, error)
	// Put writes an object, replacing any existing one.
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Content types used for published objects.
const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeJSON = "application/json; charset=utf-8"
)

// childPrefixes derives the immediate child prefixes of prefix from a sorted
// key listing. Backends without native delimiter listing use this.
func childPrefixes(keys []string, prefix string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			continue
		}
		p := prefix + rest[:i+1]
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func keysOf(infos []model.ObjectInfo) []string {
	out := make([]string, len(infos))
	for i, o := range infos {
		out[i] = o.Key
	}
	return out
}
