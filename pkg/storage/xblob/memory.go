package xblob

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
)

// MemoryOption 内存存储配置选项。
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	quota int64
}

// WithQuota 设置所有分区共享的字节配额（按响应体大小计）。0 表示不限制。
func WithQuota(bytes int64) MemoryOption {
	return func(o *memoryOptions) {
		o.quota = bytes
	}
}

// NewMemory 创建进程内存储。
//
// 内存存储从不自行淘汰条目：条目数量和存活时间由过期管理器统一裁剪，
// 存储侧只负责在超出配额时拒绝写入并返回 ErrQuotaExceeded。
func NewMemory(opts ...MemoryOption) (Storage, error) {
	o := &memoryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.quota < 0 {
		return nil, ErrInvalidQuota
	}
	return &memoryStorage{
		caches: make(map[string]*memoryCache),
		quota:  o.quota,
	}, nil
}

type memoryStorage struct {
	mu     sync.Mutex
	caches map[string]*memoryCache
	quota  int64
	used   int64 // 受 mu 保护
}

func (s *memoryStorage) Open(_ context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{storage: s, name: name, entries: make(map[string]*memoryEntry)}
		s.caches[name] = c
	}
	return c, nil
}

func (s *memoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *memoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	c, ok := s.caches[name]
	if ok {
		delete(s.caches, name)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	// 锁顺序始终是 cache.mu -> storage.mu，detach 不能在持有 s.mu 时调用
	_ = s.reserve(-c.detach())
	return true, nil
}

func (s *memoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *memoryStorage) Close() error { return nil }

// reserve 调整已用字节数，超出配额时拒绝。调用方不持有 s.mu。
func (s *memoryStorage) reserve(delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta > 0 && s.quota > 0 && s.used+delta > s.quota {
		return ErrQuotaExceeded
	}
	s.used += delta
	return nil
}

type memoryEntry struct {
	key  string
	resp *xresponse.Response
}

type memoryCache struct {
	storage *memoryStorage
	name    string

	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   []string // 写入顺序
	deleted bool
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(_ context.Context, req *http.Request, opts MatchOptions) (*xresponse.Response, error) {
	if req == nil || req.URL == nil {
		return nil, ErrNilRequest
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !opts.IgnoreSearch {
		if !opts.IgnoreMethod && !isGET(req) {
			return nil, nil
		}
		if e, ok := c.entries[KeyOf(req)]; ok {
			return e.resp.Clone(), nil
		}
		return nil, nil
	}
	for _, key := range c.order {
		if matches(key, req, opts) {
			return c.entries[key].resp.Clone(), nil
		}
	}
	return nil, nil
}

func (c *memoryCache) Put(_ context.Context, req *http.Request, resp *xresponse.Response) error {
	if err := checkPut(req, resp); err != nil {
		return err
	}
	key := KeyOf(req)
	stored := resp.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return ErrCacheDeleted
	}

	delta := quotaSize(stored)
	old, exists := c.entries[key]
	if exists {
		delta -= quotaSize(old.resp)
	}
	if err := c.storage.reserve(delta); err != nil {
		return err
	}

	if exists {
		// 覆盖写视为新写入，移动到末尾
		c.removeOrder(key)
	}
	c.entries[key] = &memoryEntry{key: key, resp: stored}
	c.order = append(c.order, key)
	return nil
}

func (c *memoryCache) Delete(_ context.Context, req *http.Request, opts MatchOptions) (bool, error) {
	if req == nil || req.URL == nil {
		return false, ErrNilRequest
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var freed int64
	removed := false
	for _, key := range slices.Clone(c.order) {
		if !matches(key, req, opts) {
			continue
		}
		freed += quotaSize(c.entries[key].resp)
		delete(c.entries, key)
		c.removeOrder(key)
		removed = true
	}
	if freed > 0 && !c.deleted {
		_ = c.storage.reserve(-freed)
	}
	return removed, nil
}

func (c *memoryCache) Keys(_ context.Context, req *http.Request, opts MatchOptions) ([]*http.Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]*http.Request, 0, len(c.order))
	for _, key := range c.order {
		if req != nil && !matches(key, req, opts) {
			continue
		}
		keys = append(keys, newKeyRequest(key))
	}
	return keys, nil
}

// detach 标记分区已删除并返回其占用的字节数。
func (c *memoryCache) detach() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = true
	var size int64
	for _, e := range c.entries {
		size += quotaSize(e.resp)
	}
	c.entries = make(map[string]*memoryEntry)
	c.order = nil
	return size
}

// quotaSize 返回计入配额的字节数，只计响应体。
func quotaSize(resp *xresponse.Response) int64 {
	if resp == nil {
		return 0
	}
	return int64(len(resp.Body))
}

func (c *memoryCache) removeOrder(key string) {
	if i := slices.Index(c.order, key); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
}
