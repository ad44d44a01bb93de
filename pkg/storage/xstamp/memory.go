package xstamp

import (
	"context"
	"slices"
	"sync"
)

// NewMemory 创建进程内索引。
func NewMemory() Index {
	return &memoryIndex{records: make(map[string]Record)}
}

type memoryIndex struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

func (m *memoryIndex) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, false, ErrClosed
	}
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *memoryIndex) Put(_ context.Context, rec Record) error {
	if rec.ID == "" || rec.CacheName == "" {
		return ErrInvalidRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.records, id)
	return nil
}

func (m *memoryIndex) Scan(ctx context.Context, cacheName string, fn func(Record) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	matched := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if rec.CacheName == cacheName {
			matched = append(matched, rec)
		}
	}
	m.mu.RUnlock()

	// 快照排序后在锁外回调
	slices.SortFunc(matched, compareNewest)
	for _, rec := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

func (m *memoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
