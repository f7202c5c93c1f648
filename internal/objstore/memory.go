package objstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/derickschaefer/meterstat/internal/model"
)

type memObject struct {
	data    []byte
	modTime time.Time
}

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	// Now stamps LastModified on Put; defaults to time.Now.
	Now func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject), Now: time.Now}
}

// PutAt stores an object with an explicit modification time.
func (m *Memory) PutAt(key string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), modTime: modTime.UTC()}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), o.data...), nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]model.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ObjectInfo
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, model.ObjectInfo{Key: k, Size: int64(len(o.data)), LastModified: o.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Prefixes(ctx context.Context, prefix string) ([]string, error) {
	infos, _ := m.List(ctx, prefix)
	return childPrefixes(keysOf(infos), prefix), nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) error {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	m.PutAt(key, data, now())
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
