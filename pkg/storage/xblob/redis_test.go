package xblob

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
)

func newTestClient(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:         mr.Addr(),
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolSize:     2,
		MaxRetries:   1,
	})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

// newTestRedis 创建基于 miniredis 的存储。
func newTestRedis(t *testing.T, opts ...RedisOption) Storage {
	t.Helper()
	client, _ := newTestClient(t)
	s, err := NewRedis(client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRedis_NilClient(t *testing.T) {
	_, err := NewRedis(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestRedis_KeyLayout(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	s, err := NewRedis(client, WithKeyPrefix("t:"))
	require.NoError(t, err)

	c, err := s.Open(ctx, "previews")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, mustReq(t, http.MethodGet, "https://x/a#frag"), xresponse.New("u", 200, nil)))

	assert.True(t, mr.Exists("t:caches"))
	assert.True(t, mr.Exists("t:cache:previews"))
	assert.NotEmpty(t, mr.HGet("t:cache:previews", "https://x/a"))
}

func TestRedis_OOMMapsToQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	s, err := NewRedis(client)
	require.NoError(t, err)

	c, err := s.Open(ctx, "c")
	require.NoError(t, err)

	mr.SetError("OOM command not allowed when used memory > 'maxmemory'.")
	err = c.Put(ctx, mustReq(t, http.MethodGet, "https://x/a"), xresponse.New("u", 200, []byte("x")))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	mr.SetError("ERR something else")
	err = c.Put(ctx, mustReq(t, http.MethodGet, "https://x/a"), xresponse.New("u", 200, []byte("x")))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)
	mr.SetError("")
}

var (
	errOOM       = errors.New("OOM command not allowed when used memory > 'maxmemory'.")
	errExecAbort = errors.New("EXECABORT Transaction discarded because of previous errors.")
)

// maxmemoryHook 模拟到达 maxmemory 的 Redis：HSET 被拒绝；
// 在 MULTI 中排队失败时整个事务以 EXECABORT 中止，每条命令都只带这个错误。
type maxmemoryHook struct{}

func (maxmemoryHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (maxmemoryHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "hset" {
			cmd.SetErr(errOOM)
			return errOOM
		}
		return next(ctx, cmd)
	}
}

func (maxmemoryHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	named := func(name string) func(redis.Cmder) bool {
		return func(c redis.Cmder) bool { return c.Name() == name }
	}
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if !slices.ContainsFunc(cmds, named("hset")) {
			return next(ctx, cmds)
		}
		err := errOOM
		if slices.ContainsFunc(cmds, named("multi")) {
			err = errExecAbort
		}
		for _, c := range cmds {
			c.SetErr(err)
		}
		return err
	}
}

func TestRedis_OOMOnQueuedWriteMapsToQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	client.AddHook(maxmemoryHook{})
	s, err := NewRedis(client)
	require.NoError(t, err)

	c, err := s.Open(ctx, "c")
	require.NoError(t, err)
	err = c.Put(ctx, mustReq(t, http.MethodGet, "https://x/a"), xresponse.New("u", 200, []byte("x")))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

// pauseHook 让一次 HGET 在拿到结果后暂停，直到测试放行。
type pauseHook struct {
	armed   atomic.Bool
	fetched chan struct{}
	resume  chan struct{}
}

func (h *pauseHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *pauseHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "hget" && h.armed.CompareAndSwap(true, false) {
			close(h.fetched)
			<-h.resume
		}
		return err
	}
}

func (h *pauseHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedis_LocalCacheNotRefilledAfterConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	hook := &pauseHook{fetched: make(chan struct{}), resume: make(chan struct{})}
	client.AddHook(hook)
	s, err := NewRedis(client, WithLocalCache(1<<20, 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	rs := s.(*redisStorage)

	c, err := s.Open(ctx, "c")
	require.NoError(t, err)
	req := mustReq(t, http.MethodGet, "https://x/a")
	require.NoError(t, c.Put(ctx, req, xresponse.New("u", 200, []byte("v1"))))

	type result struct {
		resp *xresponse.Response
		err  error
	}
	got := make(chan result, 1)
	hook.armed.Store(true)
	go func() {
		resp, err := c.Match(ctx, req, MatchOptions{})
		got <- result{resp, err}
	}()

	// 读取已拿到旧值，此时删除条目
	<-hook.fetched
	deleted, err := c.Delete(ctx, req, MatchOptions{})
	require.NoError(t, err)
	require.True(t, deleted)
	close(hook.resume)

	r := <-got
	require.NoError(t, r.err)
	assert.NotNil(t, r.resp, "the read that started before the delete still returns it")
	rs.l1.Wait()

	_, cached := rs.localGet("c", "https://x/a")
	assert.False(t, cached, "deleted entry must not be refilled into the local cache")
	resp, err := c.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRedis_LocalCacheInvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t, WithLocalCache(1<<20, time.Minute))
	rs := s.(*redisStorage)

	c, err := s.Open(ctx, "c")
	require.NoError(t, err)
	req := mustReq(t, http.MethodGet, "https://x/a")

	require.NoError(t, c.Put(ctx, req, xresponse.New("u", 200, []byte("v1"))))
	got, err := c.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got.Body))
	rs.l1.Wait()

	_, cached := rs.localGet("c", "https://x/a")
	assert.True(t, cached, "match should populate the local copy")

	require.NoError(t, c.Put(ctx, req, xresponse.New("u", 200, []byte("v2"))))
	got, err = c.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Body))

	_, err = c.Delete(ctx, req, MatchOptions{})
	require.NoError(t, err)
	got, err = c.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatchIgnoreParams(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemory()
	require.NoError(t, err)
	c, err := s.Open(ctx, "c")
	require.NoError(t, err)

	stored := mustReq(t, http.MethodGet, "https://x/app.js?v=1&"+RevisionParam+"=abc")
	require.NoError(t, c.Put(ctx, stored, xresponse.New("old", 200, nil)))

	got, err := MatchIgnoreParams(ctx, c, mustReq(t, http.MethodGet, "https://x/app.js?v=1&"+RevisionParam+"=def"), []string{RevisionParam}, MatchOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "old", got.URL)

	// 其余查询参数仍需一致
	got, err = MatchIgnoreParams(ctx, c, mustReq(t, http.MethodGet, "https://x/app.js?v=2"), []string{RevisionParam}, MatchOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = MatchIgnoreParams(ctx, c, mustReq(t, http.MethodGet, "https://x/app.js?v=1"), []string{RevisionParam}, MatchOptions{})
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestKeyOfURL(t *testing.T) {
	assert.Equal(t, "https://x/a?b=1", KeyOfURL("https://x/a?b=1#c"))
	assert.Equal(t, "%zz", KeyOfURL("%zz#frag"))
}
