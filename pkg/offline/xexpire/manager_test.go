package xexpire

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
	"github.com/omeyang/xoffline/pkg/storage/xstamp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-redis 连接池拨号和维护通知熔断器的后台 goroutine，Client.Close 后可能仍在退出途中
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).tryDial"),
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/maintnotifications.(*CircuitBreakerManager).cleanupLoop"),
		goleak.IgnoreTopFunction("time.Sleep"),
	)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	storage xblob.Storage
	index   xstamp.Index
	clock   *fakeClock
}

func indexFactories(t *testing.T) map[string]func() xstamp.Index {
	t.Helper()
	return map[string]func() xstamp.Index{
		"memory": func() xstamp.Index { return xstamp.NewMemory() },
		"sqlite": func() xstamp.Index {
			idx, err := xstamp.NewSQLite(filepath.Join(t.TempDir(), "stamps.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		},
		"redis": func() xstamp.Index {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 2})
			t.Cleanup(func() { _ = client.Close() })
			idx, err := xstamp.NewRedis(client, "t:")
			require.NoError(t, err)
			return idx
		},
	}
}

func newFixture(t *testing.T, index xstamp.Index) *fixture {
	t.Helper()
	s, err := xblob.NewMemory()
	require.NoError(t, err)
	return &fixture{storage: s, index: index, clock: newClock()}
}

// put 写入响应并更新时间戳，模拟一次缓存写入。
func (f *fixture) put(t *testing.T, m *Manager, url string) {
	t.Helper()
	ctx := context.Background()
	c, err := f.storage.Open(ctx, m.CacheName())
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, req, xresponse.New(url, http.StatusOK, []byte(url))))
	require.NoError(t, m.UpdateTimestamp(ctx, url))
}

func (f *fixture) storedURLs(t *testing.T, cacheName string) []string {
	t.Helper()
	c, err := f.storage.Open(context.Background(), cacheName)
	require.NoError(t, err)
	keys, err := c.Keys(context.Background(), nil, xblob.MatchOptions{})
	require.NoError(t, err)
	urls := make([]string, 0, len(keys))
	for _, k := range keys {
		urls = append(urls, k.URL.String())
	}
	return urls
}

func (f *fixture) indexedURLs(t *testing.T, cacheName string) []string {
	t.Helper()
	var urls []string
	require.NoError(t, f.index.Scan(context.Background(), cacheName, func(r xstamp.Record) bool {
		urls = append(urls, r.URL)
		return true
	}))
	return urls
}

func TestPolicy_Validate(t *testing.T) {
	assert.ErrorIs(t, Policy{}.Validate(), ErrMaxEntriesOrAgeRequired)
	assert.ErrorIs(t, Policy{MaxEntries: -1, MaxAge: time.Second}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Policy{MaxEntries: 1}.Validate())
	assert.NoError(t, Policy{MaxAge: time.Second}.Validate())

	_, err := New("previews", nil, xstamp.NewMemory(), Policy{MaxEntries: 1})
	assert.ErrorIs(t, err, ErrNilStorage)
}

func TestExpireEntries_MaxEntriesKeepsMostRecent(t *testing.T) {
	for name, factory := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory())
			m, err := New("previews", f.storage, f.index, Policy{MaxEntries: 2}, WithClock(f.clock.Now), WithLogger(nil))
			require.NoError(t, err)

			for _, u := range []string{"https://x/a", "https://x/b", "https://x/c"} {
				f.put(t, m, u)
				f.clock.Advance(time.Second)
			}

			expired, err := m.ExpireEntries(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"https://x/a"}, expired)

			assert.ElementsMatch(t, []string{"https://x/b", "https://x/c"}, f.storedURLs(t, "previews"))
			assert.ElementsMatch(t, []string{"https://x/b", "https://x/c"}, f.indexedURLs(t, "previews"))
		})
	}
}

func TestExpireEntries_MaxAge(t *testing.T) {
	for name, factory := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory())
			m, err := New("previews", f.storage, f.index, Policy{MaxAge: time.Minute}, WithClock(f.clock.Now), WithLogger(nil))
			require.NoError(t, err)

			f.put(t, m, "https://x/old")
			f.clock.Advance(45 * time.Second)
			f.put(t, m, "https://x/new")
			f.clock.Advance(30 * time.Second)

			expired, err := m.ExpireEntries(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"https://x/old"}, expired)

			minTs := f.clock.Now().Add(-time.Minute).UnixMilli()
			require.NoError(t, f.index.Scan(context.Background(), "previews", func(r xstamp.Record) bool {
				assert.GreaterOrEqual(t, r.Timestamp, minTs)
				return true
			}))
			assert.Equal(t, f.indexedURLs(t, "previews"), f.storedURLs(t, "previews"))
		})
	}
}

func TestExpireEntries_PartitionsAreIndependent(t *testing.T) {
	f := newFixture(t, xstamp.NewMemory())
	a, err := New("a", f.storage, f.index, Policy{MaxEntries: 1}, WithClock(f.clock.Now), WithLogger(nil))
	require.NoError(t, err)
	b, err := New("b", f.storage, f.index, Policy{MaxEntries: 1}, WithClock(f.clock.Now), WithLogger(nil))
	require.NoError(t, err)

	f.put(t, a, "https://x/1")
	f.clock.Advance(time.Second)
	f.put(t, b, "https://x/1")
	f.clock.Advance(time.Second)
	f.put(t, a, "https://x/2")

	expired, err := a.ExpireEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/1"}, expired)
	assert.Equal(t, []string{"https://x/1"}, f.storedURLs(t, "b"))
}

func TestIsURLExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, xstamp.NewMemory())
	m, err := New("previews", f.storage, f.index, Policy{MaxAge: 60 * time.Second}, WithClock(f.clock.Now), WithLogger(nil))
	require.NoError(t, err)

	require.NoError(t, m.UpdateTimestamp(ctx, "https://x/x"))

	f.clock.Advance(30 * time.Second)
	expired, err := m.IsURLExpired(ctx, "https://x/x")
	require.NoError(t, err)
	assert.False(t, expired)

	f.clock.Advance(60 * time.Second)
	expired, err = m.IsURLExpired(ctx, "https://x/x")
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = m.IsURLExpired(ctx, "https://x/never-seen")
	require.NoError(t, err)
	assert.True(t, expired, "missing timestamp counts as expired")

	countOnly, err := New("previews", f.storage, f.index, Policy{MaxEntries: 5})
	require.NoError(t, err)
	_, err = countOnly.IsURLExpired(ctx, "https://x/x")
	assert.ErrorIs(t, err, ErrMaxAgeRequired)
}

func TestUpdateTimestamp_StripsFragment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, xstamp.NewMemory())
	m, err := New("previews", f.storage, f.index, Policy{MaxEntries: 5}, WithClock(f.clock.Now))
	require.NoError(t, err)

	require.NoError(t, m.UpdateTimestamp(ctx, "https://x/a#one"))
	require.NoError(t, m.UpdateTimestamp(ctx, "https://x/a#two"))
	assert.Equal(t, []string{"https://x/a"}, f.indexedURLs(t, "previews"))
}

func TestDelete_RemovesEverything(t *testing.T) {
	f := newFixture(t, xstamp.NewMemory())
	m, err := New("previews", f.storage, f.index, Policy{MaxEntries: 10}, WithClock(f.clock.Now), WithLogger(nil))
	require.NoError(t, err)

	f.put(t, m, "https://x/a")
	f.put(t, m, "https://x/b")

	require.NoError(t, m.Delete(context.Background()))
	assert.Empty(t, f.indexedURLs(t, "previews"))
	assert.Empty(t, f.storedURLs(t, "previews"))
}

// blockingIndex 让第一次 Scan 阻塞，用于观察清理的单飞行为。
type blockingIndex struct {
	xstamp.Index
	scans   atomic.Int64
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingIndex) Scan(ctx context.Context, cacheName string, fn func(xstamp.Record) bool) error {
	if b.scans.Add(1) == 1 {
		b.once.Do(func() { close(b.entered) })
		<-b.release
	}
	return b.Index.Scan(ctx, cacheName, fn)
}

func TestExpireEntries_SingleFlightWithRerun(t *testing.T) {
	idx := &blockingIndex{
		Index:   xstamp.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, idx)
	m, err := New("previews", f.storage, idx, Policy{MaxEntries: 1}, WithClock(f.clock.Now), WithLogger(nil))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.ExpireEntries(context.Background())
	}()
	<-idx.entered

	// 运行中的再次调用立即返回，只登记重跑
	for i := 0; i < 3; i++ {
		expired, err := m.ExpireEntries(context.Background())
		require.NoError(t, err)
		assert.Nil(t, expired)
	}

	close(idx.release)
	<-done
	m.Wait()
	assert.Equal(t, int64(2), idx.scans.Load(), "one sweep plus exactly one rerun")
}

// countingIndex 统计 Scan 次数。
type countingIndex struct {
	xstamp.Index
	scans atomic.Int64
}

func (c *countingIndex) Scan(ctx context.Context, cacheName string, fn func(xstamp.Record) bool) error {
	c.scans.Add(1)
	return c.Index.Scan(ctx, cacheName, fn)
}

func TestExpireEntries_NoStrayRerunAfterConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	idx := &countingIndex{Index: xstamp.NewMemory()}
	f := newFixture(t, idx)
	m, err := New("previews", f.storage, idx, Policy{MaxEntries: 1}, WithClock(f.clock.Now), WithLogger(nil))
	require.NoError(t, err)

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = m.ExpireEntries(ctx)
			}()
		}
		wg.Wait()
		m.Wait()
	}

	// 静止之后单次调用只扫描一次，不会带出遗留的重跑
	before := idx.scans.Load()
	_, err = m.ExpireEntries(ctx)
	require.NoError(t, err)
	m.Wait()
	assert.Equal(t, before+1, idx.scans.Load())
}

func TestExpireEntries_IndexMatchesStore(t *testing.T) {
	for name, factory := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory())
			m, err := New("previews", f.storage, f.index, Policy{MaxEntries: 3, MaxAge: time.Minute}, WithClock(f.clock.Now), WithLogger(nil))
			require.NoError(t, err)

			for i := 0; i < 8; i++ {
				f.put(t, m, "https://x/"+strconv.Itoa(i))
				f.clock.Advance(10 * time.Second)
				_, err := m.ExpireEntries(context.Background())
				require.NoError(t, err)
				assert.ElementsMatch(t, f.indexedURLs(t, "previews"), f.storedURLs(t, "previews"))
			}

			f.clock.Advance(2 * time.Minute)
			_, err = m.ExpireEntries(context.Background())
			require.NoError(t, err)
			assert.Empty(t, f.indexedURLs(t, "previews"))
			assert.Empty(t, f.storedURLs(t, "previews"))
		})
	}
}
