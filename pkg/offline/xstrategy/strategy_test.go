package xstrategy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xroute"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingFetcher 记录网络请求次数，按 URL 返回固定响应或错误。
type countingFetcher struct {
	calls  atomic.Int64
	status int
	err    error

	mu   sync.Mutex
	seen []*http.Request
}

func (f *countingFetcher) Fetch(_ context.Context, req *http.Request) (*xresponse.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return xresponse.New(req.URL.String(), status, []byte("network:"+req.URL.Path)), nil
}

func mustReq(t *testing.T, method, raw string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, raw, nil)
	require.NoError(t, err)
	return req
}

func newMemory(t *testing.T, opts ...xblob.MemoryOption) xblob.Storage {
	t.Helper()
	s, err := xblob.NewMemory(opts...)
	require.NoError(t, err)
	return s
}

func input(req *http.Request) xroute.Input {
	return xroute.Input{URL: req.URL, Request: req}
}

func cachedKeys(t *testing.T, s xblob.Storage, name string) []string {
	t.Helper()
	c, err := s.Open(context.Background(), name)
	require.NoError(t, err)
	keys, err := c.Keys(context.Background(), nil, xblob.MatchOptions{})
	require.NoError(t, err)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.URL.String())
	}
	return out
}

func TestNewBase_InvalidConfig(t *testing.T) {
	_, err := NewCacheFirst(nil, &countingFetcher{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewCacheFirst(newMemory(t), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCacheFirst_SecondRequestServedFromCache(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	fetcher := &countingFetcher{}
	s, err := NewCacheFirst(store, fetcher, WithCacheName("previews"), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/core/preview?id=1")

	first, done, err := s.HandleAll(ctx, input(req))
	require.NoError(t, err)
	require.NoError(t, done.Wait(ctx), "background write must finish")
	assert.Equal(t, int64(1), fetcher.calls.Load())
	assert.Equal(t, []string{"https://app.example.com/core/preview?id=1"}, cachedKeys(t, store, "previews"))

	second, done, err := s.HandleAll(ctx, input(req))
	require.NoError(t, err)
	require.NoError(t, done.Wait(ctx))
	assert.Equal(t, int64(1), fetcher.calls.Load(), "no second network fetch")
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Status, second.Status)
}

func TestCacheFirst_NetworkFailureIsNoResponse(t *testing.T) {
	ctx := context.Background()
	netErr := errors.New("connection refused")
	s, err := NewCacheFirst(newMemory(t), &countingFetcher{err: netErr}, WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	_, done, err := s.HandleAll(ctx, input(req))
	require.NoError(t, done.Wait(ctx))

	var nre *NoResponseError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, "https://app.example.com/a", nre.URL)
	assert.ErrorIs(t, err, ErrNoResponse)
	assert.ErrorIs(t, err, netErr, "network error is kept as the cause")
}

func TestCacheFirst_Non200NotCachedByDefault(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	fetcher := &countingFetcher{status: http.StatusNotFound}
	s, err := NewCacheFirst(store, fetcher, WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/missing")
	resp, done, err := s.HandleAll(ctx, input(req))
	require.NoError(t, err)
	require.NoError(t, done.Wait(ctx))
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Empty(t, cachedKeys(t, store, DefaultCacheName))
}

func TestCachePut_NonGETIsNotCacheable(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	updates := &recordingPlugin{}
	s, err := NewCacheFirst(store, &countingFetcher{}, WithPlugins(updates), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodPost, "https://app.example.com/form")
	h := s.NewHandler(input(req))
	defer h.Destroy()

	ok, err := h.CachePut(ctx, req, xresponse.New(req.URL.String(), http.StatusOK, nil))
	assert.False(t, ok)
	var nce *NotCacheableError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, http.MethodPost, nce.Method)
	assert.ErrorIs(t, err, ErrNotCacheable)

	has, err := store.Has(ctx, DefaultCacheName)
	require.NoError(t, err)
	assert.False(t, has, "store untouched")
	assert.Zero(t, updates.didUpdate.Load(), "cacheDidUpdate not called")

	_, err = h.CachePut(ctx, mustReq(t, http.MethodGet, "https://app.example.com/a"), nil)
	assert.ErrorIs(t, err, ErrNotCacheable)
}

func TestCachePut_QuotaCallbacksRunInOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t, xblob.WithQuota(4))
	quota := NewQuotaCallbacks()

	var order []int
	for i := 1; i <= 3; i++ {
		quota.Register(func(context.Context) error {
			order = append(order, i)
			if i == 2 {
				return errors.New("callback failed")
			}
			return nil
		})
	}
	quota.Register(nil)
	assert.Equal(t, 3, quota.Len())

	s, err := NewCacheFirst(store, &countingFetcher{}, WithQuotaCallbacks(quota), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/big")
	h := s.NewHandler(input(req))
	defer h.Destroy()

	ok, err := h.CachePut(ctx, req, xresponse.New(req.URL.String(), http.StatusOK, []byte("too large")))
	assert.False(t, ok)
	assert.ErrorIs(t, err, xblob.ErrQuotaExceeded)
	assert.Equal(t, []int{1, 2, 3}, order, "every callback exactly once, in order")
}

func TestHandler_RequestWillFetchErrorAbortsFetch(t *testing.T) {
	ctx := context.Background()
	fetcher := &countingFetcher{}
	boom := errors.New("rewrite failed")
	s, err := NewCacheFirst(newMemory(t), fetcher, WithPlugins(&rewritePlugin{err: boom}), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	h := s.NewHandler(input(req))
	defer h.Destroy()

	_, err = h.Fetch(ctx, req)
	var pe *PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "requestWillFetch", pe.Hook)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, fetcher.calls.Load())
}

func TestHandler_FetchHooks(t *testing.T) {
	ctx := context.Background()
	netErr := errors.New("offline")
	fetcher := &countingFetcher{err: netErr}
	rewrite := &rewritePlugin{header: "X-Rewritten"}
	observer := &recordingPlugin{}
	s, err := NewCacheFirst(newMemory(t), fetcher, WithPlugins(rewrite, observer), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	h := s.NewHandler(input(req))
	defer h.Destroy()

	_, err = h.Fetch(ctx, req)
	assert.Same(t, netErr, err, "transport errors are not wrapped")

	require.Len(t, observer.failures, 1)
	f := observer.failures[0]
	assert.Empty(t, f.OriginalRequest.Header.Get("X-Rewritten"))
	assert.Equal(t, "1", f.Request.Header.Get("X-Rewritten"))
	assert.Same(t, netErr, f.Err)
	assert.Empty(t, req.Header.Get("X-Rewritten"), "plugins receive copies")
}

func TestHandler_CacheKeyMemoized(t *testing.T) {
	ctx := context.Background()
	keyPlugin := &keyPlugin{}
	s, err := NewCacheFirst(newMemory(t), &countingFetcher{}, WithPlugins(keyPlugin), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a?utm=1")
	h := s.NewHandler(input(req))
	defer h.Destroy()

	for i := 0; i < 3; i++ {
		key, err := h.CacheKey(ctx, req, ModeRead)
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com/a", key.URL.String())
	}
	_, err = h.CacheKey(ctx, req, ModeWrite)
	require.NoError(t, err)
	assert.Equal(t, int64(2), keyPlugin.calls.Load(), "once per (url, mode)")
}

func TestHandler_CacheWillUpdateCanAllowAndVeto(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	allow := &allowStatusPlugin{statuses: map[int]bool{http.StatusNotFound: true}}
	s, err := NewCacheFirst(store, &countingFetcher{}, WithPlugins(allow), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	h := s.NewHandler(input(req))
	defer h.Destroy()

	ok, err := h.CachePut(ctx, req, xresponse.New("a", http.StatusNotFound, nil))
	require.NoError(t, err)
	assert.True(t, ok, "plugin allows 404")

	other := mustReq(t, http.MethodGet, "https://app.example.com/b")
	ok, err = h.CachePut(ctx, other, xresponse.New("b", http.StatusOK, nil))
	require.NoError(t, err)
	assert.False(t, ok, "plugin vetoes 200")
	assert.Equal(t, []string{"https://app.example.com/a"}, cachedKeys(t, store, DefaultCacheName))
}

func TestHandler_CacheDidUpdateSeesOldResponse(t *testing.T) {
	ctx := context.Background()
	observer := &recordingPlugin{}
	s, err := NewCacheFirst(newMemory(t), &countingFetcher{}, WithPlugins(observer), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	h := s.NewHandler(input(req))
	defer h.Destroy()

	_, err = h.CachePut(ctx, req, xresponse.New("v1", http.StatusOK, nil))
	require.NoError(t, err)
	_, err = h.CachePut(ctx, req, xresponse.New("v2", http.StatusOK, nil))
	require.NoError(t, err)

	require.Len(t, observer.updates, 2)
	assert.Nil(t, observer.updates[0].OldResponse)
	assert.Equal(t, "v1", observer.updates[1].OldResponse.URL)
	assert.Equal(t, "v2", observer.updates[1].NewResponse.URL)
}

func TestHandler_CachedResponseVeto(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	fetcher := &countingFetcher{}
	veto := &vetoPlugin{}
	s, err := NewCacheFirst(store, fetcher, WithPlugins(veto), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	c, err := store.Open(ctx, DefaultCacheName)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, req, xresponse.New("stale", http.StatusOK, nil)))

	resp, done, err := s.HandleAll(ctx, input(req))
	require.NoError(t, err)
	require.NoError(t, done.Wait(ctx))
	assert.Equal(t, int64(1), fetcher.calls.Load(), "vetoed hit falls back to network")
	assert.Equal(t, req.URL.String(), resp.URL)
}

func TestHandler_DoneWaitingDrainsInOrder(t *testing.T) {
	ctx := context.Background()
	s, err := NewCacheFirst(newMemory(t), &countingFetcher{}, WithLogger(nil))
	require.NoError(t, err)
	h := s.NewHandler(input(mustReq(t, http.MethodGet, "https://app.example.com/a")))
	defer h.Destroy()

	first := errors.New("first")
	var extended atomic.Bool
	h.WaitUntil(xevent.Resolved(first))
	h.WaitUntil(xevent.Go(func() error {
		// 等待期间登记的任务也要被等待
		h.WaitUntil(xevent.Go(func() error {
			extended.Store(true)
			return nil
		}))
		return nil
	}))
	h.WaitUntil(nil)

	err = h.DoneWaiting(ctx)
	assert.ErrorIs(t, err, first)
	assert.True(t, extended.Load())
	assert.NoError(t, h.DoneWaiting(ctx), "queue is empty")
}

func TestHandler_DestroyResolvesDoneWithPendingWork(t *testing.T) {
	s, err := NewCacheFirst(newMemory(t), &countingFetcher{}, WithLogger(nil))
	require.NoError(t, err)
	h := s.NewHandler(input(mustReq(t, http.MethodGet, "https://app.example.com/a")))

	pending, resolve := xevent.NewTask()
	h.WaitUntil(pending)

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.DoneWaiting(waitCtx), context.DeadlineExceeded)
	select {
	case <-h.Done().Done():
		t.Fatal("handler done before destroy")
	default:
	}

	h.Destroy()
	ctx, cancelDone := context.WithTimeout(context.Background(), time.Second)
	defer cancelDone()
	require.NoError(t, h.Done().Wait(ctx), "destroy resolves done without waiting for pending work")
	select {
	case <-pending.Done():
		t.Fatal("pending work must not be cancelled by destroy")
	default:
	}

	// 重复 Destroy 无副作用；放弃等待的任务仍可自行完成
	h.Destroy()
	resolve(nil)
	assert.NoError(t, pending.Wait(context.Background()))
}

func TestRun_LifecycleHooks(t *testing.T) {
	ctx := context.Background()
	netErr := errors.New("offline")
	life := &lifecyclePlugin{fallback: xresponse.New("fallback", http.StatusOK, nil)}
	tracker := xevent.NewTracker(xevent.WithLogger(nil))
	s, err := NewCacheFirst(newMemory(t), &countingFetcher{err: netErr}, WithPlugins(life), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	resp, done, err := s.HandleAll(ctx, xroute.Input{URL: req.URL, Request: req, Event: tracker})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.URL)
	assert.Equal(t, "1", resp.Header.Get("X-Will-Respond"))

	require.NoError(t, done.Wait(ctx))
	require.NoError(t, tracker.Wait(ctx))
	assert.Equal(t, []string{"willStart", "didError", "willRespond", "didRespond", "didComplete"}, life.events())
	assert.ErrorIs(t, life.didErrorErr, ErrNoResponse)
}

func TestRun_BackgroundErrorDoesNotFailResponse(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t, xblob.WithQuota(1))
	life := &lifecyclePlugin{}
	s, err := NewCacheFirst(store, &countingFetcher{}, WithPlugins(life), WithLogger(nil))
	require.NoError(t, err)

	req := mustReq(t, http.MethodGet, "https://app.example.com/a")
	resp, done, err := s.HandleAll(ctx, input(req))
	require.NoError(t, err, "response is returned before the write fails")
	assert.NotNil(t, resp)

	err = done.Wait(ctx)
	assert.ErrorIs(t, err, xblob.ErrQuotaExceeded)
	assert.ErrorIs(t, life.completeErr, xblob.ErrQuotaExceeded)
}

// =============================================================================
// 测试插件
// =============================================================================

type recordingPlugin struct {
	mu        sync.Mutex
	failures  []FetchDidFailParam
	updates   []CacheDidUpdateParam
	didUpdate atomic.Int64
}

func (p *recordingPlugin) FetchDidFail(_ context.Context, param FetchDidFailParam) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, param)
	return nil
}

func (p *recordingPlugin) CacheDidUpdate(_ context.Context, param CacheDidUpdateParam) error {
	p.didUpdate.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, param)
	return nil
}

type rewritePlugin struct {
	header string
	err    error
}

func (p *rewritePlugin) RequestWillFetch(_ context.Context, param RequestWillFetchParam) (*http.Request, error) {
	if p.err != nil {
		return nil, p.err
	}
	param.Request.Header.Set(p.header, "1")
	return param.Request, nil
}

type keyPlugin struct {
	calls atomic.Int64
}

func (p *keyPlugin) CacheKeyWillBeUsed(ctx context.Context, param CacheKeyParam) (*http.Request, error) {
	p.calls.Add(1)
	r := param.Request.Clone(ctx)
	r.URL.RawQuery = ""
	return r, nil
}

type allowStatusPlugin struct {
	statuses map[int]bool
}

func (p *allowStatusPlugin) CacheWillUpdate(_ context.Context, param CacheWillUpdateParam) (*xresponse.Response, error) {
	if p.statuses[param.Response.Status] {
		return param.Response, nil
	}
	return nil, nil
}

type vetoPlugin struct{}

func (vetoPlugin) CachedResponseWillBeUsed(_ context.Context, param CachedResponseParam) (*xresponse.Response, error) {
	if param.CachedResponse != nil && param.CachedResponse.URL == "stale" {
		return nil, nil
	}
	return param.CachedResponse, nil
}

type lifecyclePlugin struct {
	fallback *xresponse.Response

	mu          sync.Mutex
	seen        []string
	didErrorErr error
	completeErr error
}

func (p *lifecyclePlugin) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, name)
}

func (p *lifecyclePlugin) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func (p *lifecyclePlugin) HandlerWillStart(context.Context, LifecycleParam) error {
	p.record("willStart")
	return nil
}

func (p *lifecyclePlugin) HandlerDidError(_ context.Context, param LifecycleParam) (*xresponse.Response, error) {
	p.record("didError")
	p.mu.Lock()
	p.didErrorErr = param.Err
	p.mu.Unlock()
	return p.fallback, nil
}

func (p *lifecyclePlugin) HandlerWillRespond(_ context.Context, param LifecycleParam) (*xresponse.Response, error) {
	p.record("willRespond")
	resp := param.Response.Clone()
	resp.Header.Set("X-Will-Respond", "1")
	return resp, nil
}

func (p *lifecyclePlugin) HandlerDidRespond(context.Context, LifecycleParam) error {
	p.record("didRespond")
	return nil
}

func (p *lifecyclePlugin) HandlerDidComplete(_ context.Context, param LifecycleParam) error {
	p.record("didComplete")
	p.mu.Lock()
	p.completeErr = param.Err
	p.mu.Unlock()
	return nil
}
