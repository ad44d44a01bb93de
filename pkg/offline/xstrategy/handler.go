package xstrategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xroute"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// Fetcher 执行网络请求。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*xresponse.Response, error)
}

// FetcherFunc 是函数形式的 Fetcher。
type FetcherFunc func(ctx context.Context, req *http.Request) (*xresponse.Response, error)

// Fetch 实现 Fetcher。
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*xresponse.Response, error) {
	return f(ctx, req)
}

// Handler 承载一次请求的缓存与网络操作，并在固定的生命周期节点调用插件钩子。
//
// Handler 由策略为每个请求创建，请求结束后销毁，不可复用。
// 后台写入等异步工作通过 [Handler.WaitUntil] 登记，[Handler.DoneWaiting] 按登记顺序等待。
type Handler struct {
	base    *Base
	request *http.Request
	event   xevent.Event
	params  any
	hooks   hookSet

	mu        sync.Mutex
	cacheKeys map[string]*http.Request
	pending   []*xevent.Task

	done    *xevent.Task
	resolve xevent.ResolveFunc
}

func newHandler(b *Base, in xroute.Input) *Handler {
	ev := in.Event
	if ev == nil {
		ev = xevent.Background()
	}
	req := in.Request
	if req == nil && in.URL != nil {
		req = &http.Request{Method: http.MethodGet, URL: in.URL, Header: make(http.Header)}
	}
	if req != nil && in.URL != nil && !req.URL.IsAbs() {
		// Router 已把 URL 解析为绝对地址，缓存键需要使用它
		req = req.Clone(req.Context())
		req.URL = in.URL
	}

	done, resolve := xevent.NewTask()
	h := &Handler{
		base:      b,
		request:   req,
		event:     ev,
		params:    in.Params,
		hooks:     newHookSet(b.opts.plugins),
		cacheKeys: make(map[string]*http.Request),
		done:      done,
		resolve:   resolve,
	}
	// 宿主需要等到 Handler 销毁后才能结束请求
	ev.WaitUntil(done)
	return h
}

// Request 返回 Handler 正在处理的请求。
func (h *Handler) Request() *http.Request { return h.request }

// Event 返回请求的生命周期令牌。
func (h *Handler) Event() xevent.Event { return h.event }

// Params 返回路由捕获的参数。
func (h *Handler) Params() any { return h.params }

// CacheName 返回策略的缓存分区名。
func (h *Handler) CacheName() string { return h.base.opts.cacheName }

// HasCacheDidUpdate 报告是否有插件实现了 CacheDidUpdate。
func (h *Handler) HasCacheDidUpdate() bool { return len(h.hooks.cacheDidUpdate) > 0 }

// Fetch 依次执行 requestWillFetch 钩子、网络请求和 fetchDidSucceed 钩子。
//
// requestWillFetch 出错时返回 *PluginError，不发出请求。
// 网络失败时先通知 fetchDidFail 钩子，再原样返回网络错误。
func (h *Handler) Fetch(ctx context.Context, req *http.Request) (*xresponse.Response, error) {
	if req == nil {
		return nil, xroute.ErrNilRequest
	}

	var original *http.Request
	if len(h.hooks.fetchDidFail) > 0 {
		original = req.Clone(ctx)
	}

	for _, hk := range h.hooks.requestWillFetch {
		next, err := hk.impl.RequestWillFetch(ctx, RequestWillFetchParam{
			Request: req.Clone(ctx),
			Event:   h.event,
			State:   hk.state,
		})
		if err != nil {
			return nil, &PluginError{Hook: "requestWillFetch", Err: err}
		}
		if next != nil {
			req = next
		}
	}

	filtered := req.Clone(ctx)
	resp, err := h.base.fetcher.Fetch(ctx, req)
	if err != nil {
		for _, hk := range h.hooks.fetchDidFail {
			if herr := hk.impl.FetchDidFail(ctx, FetchDidFailParam{
				OriginalRequest: original.Clone(ctx),
				Request:         filtered.Clone(ctx),
				Err:             err,
				Event:           h.event,
				State:           hk.state,
			}); herr != nil {
				h.base.logWarn("fetchDidFail hook failed", req.URL, herr)
			}
		}
		return nil, err
	}

	for _, hk := range h.hooks.fetchDidSucceed {
		next, herr := hk.impl.FetchDidSucceed(ctx, FetchDidSucceedParam{
			Request:  filtered,
			Response: resp,
			Event:    h.event,
			State:    hk.state,
		})
		if herr != nil {
			return nil, &PluginError{Hook: "fetchDidSucceed", Err: herr}
		}
		resp = next
	}
	return resp, nil
}

// FetchAndCachePut 发出网络请求，并在后台把响应副本写入缓存。
// 返回的响应不等待写入完成；写入作为后台任务登记在 Handler 上。
func (h *Handler) FetchAndCachePut(ctx context.Context, req *http.Request) (*xresponse.Response, error) {
	resp, err := h.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	clone := resp.Clone()
	// 请求结束后写入仍需完成，不能随请求上下文一起取消
	bg := context.WithoutCancel(ctx)
	h.WaitUntil(xevent.Go(func() error {
		_, err := h.CachePut(bg, req, clone)
		return err
	}))
	return resp, nil
}

// CacheMatch 用读键查找缓存，再交给 cachedResponseWillBeUsed 钩子否决或替换。
// 未命中返回 (nil, nil)。
func (h *Handler) CacheMatch(ctx context.Context, req *http.Request) (*xresponse.Response, error) {
	key, err := h.CacheKey(ctx, req, ModeRead)
	if err != nil {
		return nil, err
	}

	cache, err := h.base.storage.Open(ctx, h.CacheName())
	if err != nil {
		return nil, fmt.Errorf("xstrategy: open cache %q: %w", h.CacheName(), err)
	}
	cached, err := cache.Match(ctx, key, h.base.opts.matchOptions)
	if err != nil {
		return nil, fmt.Errorf("xstrategy: match %s: %w", key.URL, err)
	}

	for _, hk := range h.hooks.cachedResponse {
		cached, err = hk.impl.CachedResponseWillBeUsed(ctx, CachedResponseParam{
			CacheName:      h.CacheName(),
			MatchOptions:   h.base.opts.matchOptions,
			CachedResponse: cached,
			Request:        key,
			Event:          h.event,
			State:          hk.state,
		})
		if err != nil {
			return nil, &PluginError{Hook: "cachedResponseWillBeUsed", Err: err}
		}
	}
	return cached, nil
}

// CachePut 把响应写入缓存。
//
// 写键不是 GET 请求或 resp 为 nil 时返回 *NotCacheableError，存储不受影响。
// cacheWillUpdate 钩子否决时返回 (false, nil)；没有该钩子时只缓存状态码 200 的响应。
// 存储返回 xblob.ErrQuotaExceeded 时先按顺序执行全部配额回调，再返回原错误。
// 写入成功后执行 cacheDidUpdate 钩子。
func (h *Handler) CachePut(ctx context.Context, req *http.Request, resp *xresponse.Response) (bool, error) {
	key, err := h.CacheKey(ctx, req, ModeWrite)
	if err != nil {
		return false, err
	}
	if key.Method != "" && key.Method != http.MethodGet {
		return false, &NotCacheableError{URL: key.URL.String(), Method: key.Method, Reason: ReasonNonGET}
	}
	if resp == nil {
		return false, &NotCacheableError{URL: key.URL.String(), Method: http.MethodGet, Reason: ReasonNoResponse}
	}

	toCache, err := h.ensureSafeToCache(ctx, resp)
	if err != nil {
		return false, err
	}
	if toCache == nil {
		h.base.logDebug("response not cached", key.URL)
		return false, nil
	}

	cache, err := h.base.storage.Open(ctx, h.CacheName())
	if err != nil {
		return false, fmt.Errorf("xstrategy: open cache %q: %w", h.CacheName(), err)
	}

	var old *xresponse.Response
	if h.HasCacheDidUpdate() {
		old, err = xblob.MatchIgnoreParams(ctx, cache, key, []string{xblob.RevisionParam}, h.base.opts.matchOptions)
		if err != nil {
			return false, fmt.Errorf("xstrategy: match previous %s: %w", key.URL, err)
		}
	}

	if err := cache.Put(ctx, key, toCache); err != nil {
		if errors.Is(err, xblob.ErrQuotaExceeded) {
			if qerr := h.base.opts.quota.Run(ctx); qerr != nil {
				h.base.logWarn("quota callbacks failed", key.URL, qerr)
			}
		}
		return false, err
	}

	for _, hk := range h.hooks.cacheDidUpdate {
		if err := hk.impl.CacheDidUpdate(ctx, CacheDidUpdateParam{
			CacheName:   h.CacheName(),
			OldResponse: old,
			NewResponse: toCache.Clone(),
			Request:     key,
			Event:       h.event,
			State:       hk.state,
		}); err != nil {
			return true, &PluginError{Hook: "cacheDidUpdate", Err: err}
		}
	}
	return true, nil
}

// CacheKey 返回 mode 用途下的有效缓存键。
// 结果在 Handler 生命周期内按 (url, mode) 缓存，cacheKeyWillBeUsed 钩子每个键只调用一次。
func (h *Handler) CacheKey(ctx context.Context, req *http.Request, mode Mode) (*http.Request, error) {
	if req == nil || req.URL == nil {
		return nil, xroute.ErrNilRequest
	}
	memo := req.URL.String() + " | " + string(mode)

	h.mu.Lock()
	cached, ok := h.cacheKeys[memo]
	h.mu.Unlock()
	if ok {
		return cached, nil
	}

	effective := req
	for _, hk := range h.hooks.cacheKey {
		next, err := hk.impl.CacheKeyWillBeUsed(ctx, CacheKeyParam{
			Mode:    mode,
			Request: effective,
			Event:   h.event,
			Params:  h.params,
			State:   hk.state,
		})
		if err != nil {
			return nil, &PluginError{Hook: "cacheKeyWillBeUsed", Err: err}
		}
		if next != nil {
			effective = next
		}
	}

	h.mu.Lock()
	if prev, ok := h.cacheKeys[memo]; ok {
		effective = prev
	} else {
		h.cacheKeys[memo] = effective
	}
	h.mu.Unlock()
	return effective, nil
}

// WaitUntil 登记一个必须在 Handler 完成前结束的后台任务。nil 被忽略。
func (h *Handler) WaitUntil(task *xevent.Task) *xevent.Task {
	if task == nil {
		return nil
	}
	h.mu.Lock()
	h.pending = append(h.pending, task)
	h.mu.Unlock()
	return task
}

// DoneWaiting 按登记顺序等待全部后台任务。
// 等待期间新登记的任务也会被等待。任务错误不中断等待，最终合并返回；
// ctx 结束时立即返回 ctx 的错误，剩余任务继续在后台运行。
func (h *Handler) DoneWaiting(ctx context.Context) error {
	var errs []error
	for {
		h.mu.Lock()
		if len(h.pending) == 0 {
			h.mu.Unlock()
			return errors.Join(errs...)
		}
		task := h.pending[0]
		h.pending = h.pending[1:]
		h.mu.Unlock()

		if err := task.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errors.Join(append(errs, ctxErr)...)
			}
			errs = append(errs, err)
		}
	}
}

// Destroy 结束 Handler 的生命周期信号。尚未完成的后台任务被放弃等待，但不会被取消。
func (h *Handler) Destroy() {
	h.resolve(nil)
}

// Done 返回 Handler 的生命周期信号，Destroy 后完成。
func (h *Handler) Done() *xevent.Task { return h.done }

// ensureSafeToCache 执行 cacheWillUpdate 钩子链；没有钩子时只允许状态码 200。
func (h *Handler) ensureSafeToCache(ctx context.Context, resp *xresponse.Response) (*xresponse.Response, error) {
	if len(h.hooks.cacheWillUpdate) == 0 {
		if resp.Status != http.StatusOK {
			return nil, nil
		}
		return resp, nil
	}

	req := h.request
	for _, hk := range h.hooks.cacheWillUpdate {
		next, err := hk.impl.CacheWillUpdate(ctx, CacheWillUpdateParam{
			Request:  req,
			Response: resp,
			Event:    h.event,
			State:    hk.state,
		})
		if err != nil {
			return nil, &PluginError{Hook: "cacheWillUpdate", Err: err}
		}
		resp = next
		if resp == nil {
			return nil, nil
		}
	}
	return resp, nil
}

func (b *Base) logDebug(msg string, u *url.URL) {
	if b.opts.logger != nil {
		b.opts.logger.Debug(msg, slog.String("cache", b.opts.cacheName), slog.String("url", u.String()))
	}
}

func (b *Base) logWarn(msg string, u *url.URL, err error) {
	if b.opts.logger != nil {
		b.opts.logger.Warn(msg,
			slog.String("cache", b.opts.cacheName),
			slog.String("url", u.String()),
			slog.Any("error", err),
		)
	}
}
