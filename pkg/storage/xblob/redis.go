package xblob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/maphash"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
)

// DefaultKeyPrefix Redis 键的默认前缀。
const DefaultKeyPrefix = "xoffline:"

// localStripes 本地缓存版本号的分片数。不同键落在同一分片只会少回填一次。
const localStripes = 256

// RedisOption Redis 存储配置选项。
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix   string
	l1Cost   int64
	l1TTL    time.Duration
	l1Enable bool
}

func defaultRedisOptions() *redisOptions {
	return &redisOptions{prefix: DefaultKeyPrefix}
}

// WithKeyPrefix 设置 Redis 键前缀。
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithLocalCache 在 Redis 前加一层进程内 ristretto 读缓存。
// maxCost 为本地缓存可占用的响应体字节数，ttl 为本地副本的存活时间（0 表示不过期）。
// 写入和删除会同步失效本地副本。
func WithLocalCache(maxCost int64, ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		if maxCost > 0 {
			o.l1Enable = true
			o.l1Cost = maxCost
			o.l1TTL = ttl
		}
	}
}

// NewRedis 创建 Redis 存储。
//
// 每个分区对应一个 Hash（{prefix}cache:{name}），字段是存储键，值是 JSON 编码的条目；
// 分区名集合保存在 {prefix}caches。client 的生命周期由调用方管理。
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (Storage, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &redisStorage{client: client, prefix: o.prefix, l1TTL: o.l1TTL, seed: maphash.MakeSeed()}
	if o.l1Enable {
		l1, err := ristretto.NewCache(&ristretto.Config[string, *xresponse.Response]{
			NumCounters: 1e5,
			MaxCost:     o.l1Cost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("xblob: create local cache: %w", err)
		}
		s.l1 = l1
	}
	return s, nil
}

type redisStorage struct {
	client redis.UniversalClient
	prefix string
	l1     *ristretto.Cache[string, *xresponse.Response]
	l1TTL  time.Duration
	closed atomic.Bool

	// l1mu 串行化本地缓存的回填和失效；gens/epoch 在每次失效时递增。
	l1mu  sync.Mutex
	seed  maphash.Seed
	gens  [localStripes]uint64
	epoch uint64
}

// redisEntry 是 Hash 字段值的编码格式。
type redisEntry struct {
	Seq      int64               `json:"seq"`
	Response *xresponse.Response `json:"response"`
}

func (s *redisStorage) namesKey() string            { return s.prefix + "caches" }
func (s *redisStorage) cacheKey(name string) string { return s.prefix + "cache:" + name }

func (s *redisStorage) Open(ctx context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, wrapRedisErr("open", err)
	}
	return &redisCache{storage: s, name: name, key: s.cacheKey(name)}, nil
}

func (s *redisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return false, wrapRedisErr("has", err)
	}
	return ok, nil
}

func (s *redisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var srem *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.cacheKey(name))
		srem = p.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return false, wrapRedisErr("delete cache", err)
	}
	s.localClear()
	return srem.Val() > 0, nil
}

func (s *redisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, wrapRedisErr("keys", err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *redisStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.l1 != nil {
		s.l1.Close()
	}
	return nil
}

func (s *redisStorage) localKey(name, key string) string {
	return name + "\x00" + key
}

func (s *redisStorage) localGet(name, key string) (*xresponse.Response, bool) {
	if s.l1 == nil || s.closed.Load() {
		return nil, false
	}
	resp, ok := s.l1.Get(s.localKey(name, key))
	if !ok {
		return nil, false
	}
	return resp.Clone(), true
}

func (s *redisStorage) stripe(lk string) int {
	return int(maphash.String(s.seed, lk) % localStripes)
}

// localGen 返回 key 当前的本地缓存版本，需在读取 Redis 之前取得。
func (s *redisStorage) localGen(name, key string) uint64 {
	if s.l1 == nil {
		return 0
	}
	lk := s.localKey(name, key)
	s.l1mu.Lock()
	defer s.l1mu.Unlock()
	return s.epoch + s.gens[s.stripe(lk)]
}

// localFill 在版本未变时回填本地副本。
// 读取 Redis 期间发生的写入或删除会让版本变化，此时放弃回填，避免把已删除的响应写回。
func (s *redisStorage) localFill(name, key string, gen uint64, resp *xresponse.Response) {
	if s.l1 == nil || s.closed.Load() {
		return
	}
	lk := s.localKey(name, key)
	s.l1mu.Lock()
	defer s.l1mu.Unlock()
	if s.epoch+s.gens[s.stripe(lk)] != gen {
		return
	}
	// 空响应体也要计 1，避免零成本条目绕过 MaxCost
	s.l1.SetWithTTL(lk, resp.Clone(), max(resp.Size(), 1), s.l1TTL)
}

func (s *redisStorage) localDel(name, key string) {
	if s.l1 == nil || s.closed.Load() {
		return
	}
	lk := s.localKey(name, key)
	s.l1mu.Lock()
	defer s.l1mu.Unlock()
	s.gens[s.stripe(lk)]++
	s.l1.Del(lk)
}

// localClear 清空本地缓存。本地缓存不按分区索引，删除分区时整体清空。
func (s *redisStorage) localClear() {
	if s.l1 == nil || s.closed.Load() {
		return
	}
	s.l1mu.Lock()
	defer s.l1mu.Unlock()
	s.epoch++
	s.l1.Clear()
}

type redisCache struct {
	storage *redisStorage
	name    string
	key     string
}

func (c *redisCache) Name() string { return c.name }

func (c *redisCache) Match(ctx context.Context, req *http.Request, opts MatchOptions) (*xresponse.Response, error) {
	if req == nil || req.URL == nil {
		return nil, ErrNilRequest
	}
	if !opts.IgnoreMethod && !isGET(req) {
		return nil, nil
	}
	if opts.IgnoreSearch {
		entries, err := c.scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if matches(e.key, req, opts) {
				return e.resp, nil
			}
		}
		return nil, nil
	}

	key := KeyOf(req)
	if resp, ok := c.storage.localGet(c.name, key); ok {
		return resp, nil
	}
	gen := c.storage.localGen(c.name, key)
	raw, err := c.storage.client.HGet(ctx, c.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRedisErr("match", err)
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("xblob: decode entry %q: %w", key, err)
	}
	if e.Response == nil {
		return nil, nil
	}
	c.storage.localFill(c.name, key, gen, e.Response)
	return e.Response, nil
}

func (c *redisCache) Put(ctx context.Context, req *http.Request, resp *xresponse.Response) error {
	if err := checkPut(req, resp); err != nil {
		return err
	}
	key := KeyOf(req)
	raw, err := json.Marshal(redisEntry{Seq: time.Now().UnixNano(), Response: resp})
	if err != nil {
		return fmt.Errorf("xblob: encode entry %q: %w", key, err)
	}

	// 不用 MULTI：maxmemory 拒绝排队中的 HSET 时 EXEC 只返回 EXECABORT，丢失 OOM 信息
	_, err = c.storage.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, c.storage.namesKey(), c.name)
		p.HSet(ctx, c.key, key, raw)
		return nil
	})
	c.storage.localDel(c.name, key)
	if err != nil {
		return wrapRedisErr("put", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, req *http.Request, opts MatchOptions) (bool, error) {
	if req == nil || req.URL == nil {
		return false, ErrNilRequest
	}
	if !opts.IgnoreMethod && !isGET(req) {
		return false, nil
	}

	var fields []string
	if opts.IgnoreSearch {
		entries, err := c.scan(ctx)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			if matches(e.key, req, opts) {
				fields = append(fields, e.key)
			}
		}
	} else {
		fields = []string{KeyOf(req)}
	}
	if len(fields) == 0 {
		return false, nil
	}

	n, err := c.storage.client.HDel(ctx, c.key, fields...).Result()
	for _, f := range fields {
		c.storage.localDel(c.name, f)
	}
	if err != nil {
		return false, wrapRedisErr("delete", err)
	}
	return n > 0, nil
}

func (c *redisCache) Keys(ctx context.Context, req *http.Request, opts MatchOptions) ([]*http.Request, error) {
	entries, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]*http.Request, 0, len(entries))
	for _, e := range entries {
		if req != nil && !matches(e.key, req, opts) {
			continue
		}
		keys = append(keys, newKeyRequest(e.key))
	}
	return keys, nil
}

type scannedEntry struct {
	key  string
	seq  int64
	resp *xresponse.Response
}

// scan 读取整个分区并按写入顺序排序。
// 仅用于 IgnoreSearch 和 Keys；精确匹配走 HGET。
func (c *redisCache) scan(ctx context.Context) ([]scannedEntry, error) {
	all, err := c.storage.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, wrapRedisErr("scan", err)
	}
	entries := make([]scannedEntry, 0, len(all))
	for key, raw := range all {
		var e redisEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("xblob: decode entry %q: %w", key, err)
		}
		entries = append(entries, scannedEntry{key: key, seq: e.Seq, resp: e.Response})
	}
	slices.SortFunc(entries, func(a, b scannedEntry) int {
		if a.seq != b.seq {
			if a.seq < b.seq {
				return -1
			}
			return 1
		}
		return strings.Compare(a.key, b.key)
	})
	return entries, nil
}

// wrapRedisErr 包装 Redis 错误；maxmemory 拒绝写入（OOM）映射为 ErrQuotaExceeded。
func wrapRedisErr(op string, err error) error {
	if redis.IsOOMError(err) {
		return fmt.Errorf("xblob: %s: %w: %w", op, ErrQuotaExceeded, err)
	}
	return fmt.Errorf("xblob: %s: %w", op, err)
}
