package xplugin

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xroute"
	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingFetcher struct {
	calls  atomic.Int64
	status int
	header http.Header
	err    error
}

func (f *countingFetcher) Fetch(_ context.Context, req *http.Request) (*xresponse.Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	resp := xresponse.New(req.URL.String(), f.status, []byte("body"))
	for k, v := range f.header {
		resp.Header[k] = v
	}
	return resp, nil
}

func newStrategy(t *testing.T, f xstrategy.Fetcher, plugins ...xstrategy.Plugin) (xstrategy.Strategy, xblob.Storage) {
	t.Helper()
	storage, err := xblob.NewMemory()
	require.NoError(t, err)
	s, err := xstrategy.NewCacheFirst(storage, f,
		xstrategy.WithCacheName("previews"),
		xstrategy.WithPlugins(plugins...),
		xstrategy.WithLogger(nil))
	require.NoError(t, err)
	return s, storage
}

func handle(t *testing.T, s xstrategy.Strategy, raw string) (*xresponse.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, raw, nil)
	require.NoError(t, err)
	resp, done, err := s.HandleAll(context.Background(), xroute.Input{URL: req.URL, Request: req})
	require.NoError(t, done.Wait(context.Background()))
	return resp, err
}

func storedKeys(t *testing.T, storage xblob.Storage) []string {
	t.Helper()
	c, err := storage.Open(context.Background(), "previews")
	require.NoError(t, err)
	keys, err := c.Keys(context.Background(), nil, xblob.MatchOptions{})
	require.NoError(t, err)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.URL.String())
	}
	return out
}

func TestIgnoreParams_SharesCacheEntry(t *testing.T) {
	ignore, err := NewIgnoreParams([]string{"utm_source", "utm_medium"}, 0)
	require.NoError(t, err)
	f := &countingFetcher{status: http.StatusOK}
	s, storage := newStrategy(t, f, ignore)

	_, err = handle(t, s, "https://x/apps/files/preview?file=1&utm_source=mail")
	require.NoError(t, err)
	_, err = handle(t, s, "https://x/apps/files/preview?utm_medium=web&file=1")
	require.NoError(t, err)
	_, err = handle(t, s, "https://x/apps/files/preview?file=2")
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.calls.Load())
	assert.Equal(t, []string{
		"https://x/apps/files/preview?file=1",
		"https://x/apps/files/preview?file=2",
	}, storedKeys(t, storage))
}

func TestIgnoreParams_LeavesOtherRequestsAlone(t *testing.T) {
	ignore, err := NewIgnoreParams([]string{"utm_source"}, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"utm_source"}, ignore.Params())

	req, err := http.NewRequest(http.MethodGet, "https://x/a?b=1", nil)
	require.NoError(t, err)
	got, err := ignore.CacheKeyWillBeUsed(context.Background(), xstrategy.CacheKeyParam{Mode: xstrategy.ModeRead, Request: req})
	require.NoError(t, err)
	assert.Same(t, req, got)

	noQuery, err := http.NewRequest(http.MethodGet, "https://x/a", nil)
	require.NoError(t, err)
	got, err = ignore.CacheKeyWillBeUsed(context.Background(), xstrategy.CacheKeyParam{Mode: xstrategy.ModeRead, Request: noQuery})
	require.NoError(t, err)
	assert.Same(t, noQuery, got)

	_, err = NewIgnoreParams(nil, 0)
	assert.ErrorIs(t, err, ErrNoParams)
}

func TestCacheableResponse_Statuses(t *testing.T) {
	c, err := NewCacheableResponse(WithStatuses(http.StatusOK, http.StatusNotFound), WithOpaque())
	require.NoError(t, err)

	assert.True(t, c.IsCacheable(xresponse.New("u", http.StatusOK, nil)))
	assert.True(t, c.IsCacheable(xresponse.New("u", http.StatusNotFound, nil)))
	assert.True(t, c.IsCacheable(xresponse.Opaque("u")))
	assert.False(t, c.IsCacheable(xresponse.New("u", http.StatusInternalServerError, nil)))
	assert.False(t, c.IsCacheable(nil))

	_, err = NewCacheableResponse()
	assert.ErrorIs(t, err, ErrNoCriteria)
}

func TestCacheableResponse_Headers(t *testing.T) {
	c, err := NewCacheableResponse(WithHeaders(map[string]string{"x-cacheable": "true"}))
	require.NoError(t, err)

	yes := xresponse.New("u", http.StatusTeapot, nil)
	yes.Header.Set("X-Cacheable", "true")
	no := xresponse.New("u", http.StatusOK, nil)
	no.Header.Set("X-Cacheable", "false")

	assert.True(t, c.IsCacheable(yes))
	assert.False(t, c.IsCacheable(no))
}

func TestCacheableResponse_AllowsNotFoundInStrategy(t *testing.T) {
	c, err := NewCacheableResponse(WithStatuses(http.StatusOK, http.StatusNotFound))
	require.NoError(t, err)
	f := &countingFetcher{status: http.StatusNotFound}
	s, storage := newStrategy(t, f, c)

	resp, err := handle(t, s, "https://x/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	_, err = handle(t, s, "https://x/missing")
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.calls.Load())
	assert.Equal(t, []string{"https://x/missing"}, storedKeys(t, storage))
}

func TestCacheableResponse_VetoesServerError(t *testing.T) {
	c, err := NewCacheableResponse(WithStatuses(http.StatusOK))
	require.NoError(t, err)
	f := &countingFetcher{status: http.StatusServiceUnavailable}
	s, storage := newStrategy(t, f, c)

	resp, err := handle(t, s, "https://x/flaky")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Empty(t, storedKeys(t, storage))
}
