package objstore

import (
	"context"
	"time"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/store"
)

// Bolt serves objects from the local bbolt database.
type Bolt struct {
	db *store.Store
}

// NewBolt wraps an open store. The caller keeps ownership of db.
func NewBolt(db *store.Store) *Bolt {
	return &Bolt{db: db}
}

func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, found, err := b.db.GetObject(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return data, nil
}

func (b *Bolt) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.db.ListObjects(prefix)
}

func (b *Bolt) Prefixes(ctx context.Context, prefix string) ([]string, error) {
	infos, err := b.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return childPrefixes(keysOf(infos), prefix), nil
}

func (b *Bolt) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.PutObject(key, data, contentType, time.Now())
}

// PutAt writes an object with an explicit modification time (used by import).
func (b *Bolt) PutAt(key string, data []byte, contentType string, modTime time.Time) error {
	return b.db.PutObject(key, data, contentType, modTime)
}
