package xexpire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
	"github.com/omeyang/xoffline/pkg/storage/xstamp"
)

// Plugin 是把过期管理接入策略的插件。
//
//   - 读取命中时（CachedResponseWillBeUsed）：按 Date 响应头检查新鲜度，
//     在后台先清理再刷新时间戳，并把该任务登记为请求的后台工作
//   - 写入完成后（CacheDidUpdate）：更新时间戳并等待清理结束
//
// 每个分区名对应一个 Manager，按需创建。
type Plugin struct {
	storage xblob.Storage
	index   xstamp.Index
	policy  Policy
	opts    *options

	mu       sync.Mutex
	managers map[string]*Manager

	sweeps sync.WaitGroup
}

var (
	_ xstrategy.CachedResponseWillBeUsed = (*Plugin)(nil)
	_ xstrategy.CacheDidUpdate           = (*Plugin)(nil)
)

// NewPlugin 创建过期插件。配置 [PurgeOnQuotaError] 时把 DeleteCacheAndMetadata 注册为配额回调。
func NewPlugin(storage xblob.Storage, index xstamp.Index, policy Policy, opts ...Option) (*Plugin, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, ErrNilStorage
	}
	if index == nil {
		return nil, ErrNilIndex
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	p := &Plugin{
		storage:  storage,
		index:    index,
		policy:   policy,
		opts:     o,
		managers: make(map[string]*Manager),
	}
	if o.quota != nil {
		o.quota.Register(p.DeleteCacheAndMetadata)
	}
	return p, nil
}

// Manager 返回分区 cacheName 的管理器，不存在时创建。
// 默认运行时缓存返回 ErrDefaultCacheName。
func (p *Plugin) Manager(cacheName string) (*Manager, error) {
	if cacheName == xstrategy.DefaultCacheName {
		return nil, ErrDefaultCacheName
	}
	if cacheName == "" {
		return nil, fmt.Errorf("%w: empty cache name", ErrInvalidConfig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.managers[cacheName]
	if !ok {
		m = newManager(cacheName, p.storage, p.index, p.policy, p.opts)
		p.managers[cacheName] = m
	}
	return m, nil
}

// CachedResponseWillBeUsed 实现 xstrategy.CachedResponseWillBeUsed。
//
// 清理和时间戳刷新在同一个后台任务中先后执行，任务登记为请求的后台工作。
// 清理不等待完成，因此一次读取可能仍拿到按时间戳已经过期的响应，
// 但该条目不会被这次读取续期，任务结束后的下一次读取不再命中。
func (p *Plugin) CachedResponseWillBeUsed(ctx context.Context, param xstrategy.CachedResponseParam) (*xresponse.Response, error) {
	if param.CachedResponse == nil {
		return nil, nil
	}
	fresh := p.isDateFresh(param.CachedResponse)

	m, err := p.Manager(param.CacheName)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	url := param.Request.URL.String()
	p.sweeps.Add(1)
	task := xevent.Go(func() error {
		defer p.sweeps.Done()
		_, _ = m.ExpireEntries(bg)
		return m.refreshTimestamp(bg, url)
	})
	if param.Event != nil {
		param.Event.WaitUntil(task)
	}

	if !fresh {
		return nil, nil
	}
	return param.CachedResponse, nil
}

// CacheDidUpdate 实现 xstrategy.CacheDidUpdate。
func (p *Plugin) CacheDidUpdate(ctx context.Context, param xstrategy.CacheDidUpdateParam) error {
	m, err := p.Manager(param.CacheName)
	if err != nil {
		return err
	}
	if err := m.UpdateTimestamp(ctx, param.Request.URL.String()); err != nil {
		return err
	}
	_, err = m.ExpireEntries(ctx)
	return err
}

// DeleteCacheAndMetadata 删除插件管理过的全部分区及其时间戳，并重置管理器。
// 逐个分区串行执行，减少部分失败时的不一致范围。
func (p *Plugin) DeleteCacheAndMetadata(ctx context.Context) error {
	p.mu.Lock()
	managers := p.managers
	p.managers = make(map[string]*Manager)
	p.mu.Unlock()

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(managers)) {
		// 先清索引再删分区：Manager.Delete 会打开分区，顺序颠倒会把刚删除的分区重新建出来。
		if err := managers[name].Delete(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := p.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("xexpire: delete cache %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if p.opts.logger != nil {
		p.opts.logger.Info("purged caches", slog.Int("count", len(managers)))
	}
	return nil
}

// Wait 等待插件触发的后台清理及其重跑结束。
func (p *Plugin) Wait() {
	p.sweeps.Wait()
	p.mu.Lock()
	managers := slices.Collect(maps.Values(p.managers))
	p.mu.Unlock()
	for _, m := range managers {
		m.Wait()
	}
}

// isDateFresh 按 Date 响应头判断新鲜度。未设置 MaxAge 或没有可解析的 Date 头时视为新鲜。
func (p *Plugin) isDateFresh(resp *xresponse.Response) bool {
	if p.policy.MaxAge <= 0 {
		return true
	}
	date, ok := resp.Date()
	if !ok {
		return true
	}
	return !date.Before(p.opts.now().Add(-p.policy.MaxAge))
}
