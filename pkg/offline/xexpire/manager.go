package xexpire

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/omeyang/xoffline/pkg/storage/xblob"
	"github.com/omeyang/xoffline/pkg/storage/xstamp"
)

// Manager 维护单个缓存分区的时间戳，并按策略淘汰条目。
//
// 淘汰同时删除索引记录和存储中的响应。同一时刻最多只有一次清理在运行：
// 清理进行中再次调用 ExpireEntries 只会登记一次重跑，由正在运行的清理结束后触发。
// 调用方先登记 pending 再争抢 running，运行者在释放 running 之后才检查 pending，
// 因此并发调用要么自己拿到 running，要么一定被当前运行者看到。
type Manager struct {
	cacheName string
	storage   xblob.Storage
	index     xstamp.Index
	policy    Policy
	opts      *options

	running atomic.Bool
	pending atomic.Bool
	wg      sync.WaitGroup
}

// New 创建分区 cacheName 的过期管理器。
func New(cacheName string, storage xblob.Storage, index xstamp.Index, policy Policy, opts ...Option) (*Manager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, ErrNilStorage
	}
	if index == nil {
		return nil, ErrNilIndex
	}
	if cacheName == "" {
		return nil, fmt.Errorf("%w: empty cache name", ErrInvalidConfig)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newManager(cacheName, storage, index, policy, o), nil
}

func newManager(cacheName string, storage xblob.Storage, index xstamp.Index, policy Policy, o *options) *Manager {
	return &Manager{
		cacheName: cacheName,
		storage:   storage,
		index:     index,
		policy:    policy,
		opts:      o,
	}
}

// CacheName 返回管理的分区名。
func (m *Manager) CacheName() string { return m.cacheName }

// Policy 返回过期策略。
func (m *Manager) Policy() Policy { return m.policy }

// UpdateTimestamp 把 url 的使用时间更新为当前时间。
func (m *Manager) UpdateTimestamp(ctx context.Context, url string) error {
	rec := xstamp.NewRecord(m.cacheName, url, m.opts.now().UnixMilli())
	if err := m.index.Put(ctx, rec); err != nil {
		return fmt.Errorf("xexpire: update timestamp %s: %w", url, err)
	}
	return nil
}

// ExpireEntries 淘汰超龄或超量的条目并返回被淘汰的 URL。
//
// 已有清理在运行时立即返回 (nil, nil) 并登记一次重跑。
// 删除失败时返回错误，已经删除的条目不会回滚。
func (m *Manager) ExpireEntries(ctx context.Context) ([]string, error) {
	m.pending.Store(true)
	if !m.running.CompareAndSwap(false, true) {
		return nil, nil
	}
	m.pending.Store(false)

	var minTimestamp int64
	if m.policy.MaxAge > 0 {
		minTimestamp = m.opts.now().Add(-m.policy.MaxAge).UnixMilli()
	}
	expired, err := m.expire(ctx, minTimestamp, m.policy.MaxEntries)
	m.running.Store(false)

	if err != nil {
		m.logWarn("expire entries failed", err)
	} else if len(expired) > 0 {
		m.logDebug("expired entries", slog.Int("count", len(expired)))
	}

	if m.pending.CompareAndSwap(true, false) {
		bg := context.WithoutCancel(ctx)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_, _ = m.ExpireEntries(bg)
		}()
	}
	return expired, err
}

// refreshTimestamp 只刷新仍在分区内且未超龄的记录。
// 已被淘汰或等待淘汰的条目不会因一次读取重新获得时间戳。
func (m *Manager) refreshTimestamp(ctx context.Context, url string) error {
	rec, ok, err := m.index.Get(ctx, xstamp.ID(m.cacheName, url))
	if err != nil {
		return fmt.Errorf("xexpire: get timestamp %s: %w", url, err)
	}
	if !ok {
		return nil
	}
	if m.policy.MaxAge > 0 && rec.Timestamp < m.opts.now().Add(-m.policy.MaxAge).UnixMilli() {
		return nil
	}
	return m.UpdateTimestamp(ctx, url)
}

// IsURLExpired 报告 url 是否已超过 MaxAge。没有时间戳记录的 URL 视为已过期。
// 未设置 MaxAge 时返回 ErrMaxAgeRequired。
func (m *Manager) IsURLExpired(ctx context.Context, url string) (bool, error) {
	if m.policy.MaxAge <= 0 {
		return false, ErrMaxAgeRequired
	}
	rec, ok, err := m.index.Get(ctx, xstamp.ID(m.cacheName, url))
	if err != nil {
		return false, fmt.Errorf("xexpire: get timestamp %s: %w", url, err)
	}
	if !ok {
		return true, nil
	}
	return rec.Timestamp < m.opts.now().Add(-m.policy.MaxAge).UnixMilli(), nil
}

// Delete 淘汰分区内全部条目，并取消尚未开始的重跑。
func (m *Manager) Delete(ctx context.Context) error {
	m.pending.Store(false)
	_, err := m.expire(ctx, math.MaxInt64, 0)
	return err
}

// Wait 等待由重跑触发的后台清理结束。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// expire 按时间戳从新到旧扫描分区，标记需要淘汰的记录，再逐条删除索引和响应。
func (m *Manager) expire(ctx context.Context, minTimestamp int64, maxEntries int) ([]string, error) {
	var (
		marked []xstamp.Record
		kept   int
	)
	err := m.index.Scan(ctx, m.cacheName, func(rec xstamp.Record) bool {
		if (minTimestamp > 0 && rec.Timestamp < minTimestamp) || (maxEntries > 0 && kept >= maxEntries) {
			marked = append(marked, rec)
		} else {
			kept++
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("xexpire: scan %s: %w", m.cacheName, err)
	}
	if len(marked) == 0 {
		return nil, nil
	}

	for _, rec := range marked {
		if err := m.index.Delete(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("xexpire: delete timestamp %s: %w", rec.URL, err)
		}
	}

	cache, err := m.storage.Open(ctx, m.cacheName)
	if err != nil {
		return nil, fmt.Errorf("xexpire: open cache %s: %w", m.cacheName, err)
	}
	urls := make([]string, 0, len(marked))
	for _, rec := range marked {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.URL, nil)
		if err != nil {
			return urls, fmt.Errorf("xexpire: bad url %q: %w", rec.URL, err)
		}
		if _, err := cache.Delete(ctx, req, m.opts.matchOptions); err != nil {
			return urls, fmt.Errorf("xexpire: delete response %s: %w", rec.URL, err)
		}
		urls = append(urls, rec.URL)
	}
	return urls, nil
}

func (m *Manager) logDebug(msg string, attrs ...any) {
	if m.opts.logger != nil {
		m.opts.logger.Debug(msg, append([]any{slog.String("cache", m.cacheName)}, attrs...)...)
	}
}

func (m *Manager) logWarn(msg string, err error) {
	if m.opts.logger != nil {
		m.opts.logger.Warn(msg, slog.String("cache", m.cacheName), slog.Any("error", err))
	}
}
