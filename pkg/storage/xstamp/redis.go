package xstamp

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix Redis 键的默认前缀。
const DefaultKeyPrefix = "xoffline:"

// NewRedis 创建 Redis 索引。
//
// 每条记录保存为 Hash（{prefix}rec:{id}，字段 url/ts/cache），
// 每个分区维护一个 ZSET（{prefix}ts:{cacheName}，member 为 ID，score 为时间戳）。
// client 的生命周期由调用方管理。
func NewRedis(client redis.UniversalClient, prefix string) (Index, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &redisIndex{client: client, prefix: prefix}, nil
}

type redisIndex struct {
	client redis.UniversalClient
	prefix string
}

func (r *redisIndex) recKey(id string) string         { return r.prefix + "rec:" + id }
func (r *redisIndex) zsetKey(cacheName string) string { return r.prefix + "ts:" + cacheName }

func (r *redisIndex) Get(ctx context.Context, id string) (Record, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.recKey(id)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("xstamp: get %q: %w", id, err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("xstamp: decode %q: %w", id, err)
	}
	return Record{ID: id, URL: fields["url"], Timestamp: ts, CacheName: fields["cache"]}, true, nil
}

func (r *redisIndex) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.CacheName == "" {
		return ErrInvalidRecord
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.recKey(rec.ID), "url", rec.URL, "ts", rec.Timestamp, "cache", rec.CacheName)
		p.ZAdd(ctx, r.zsetKey(rec.CacheName), redis.Z{Score: float64(rec.Timestamp), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("xstamp: put %q: %w", rec.ID, err)
	}
	return nil
}

func (r *redisIndex) Delete(ctx context.Context, id string) error {
	cacheName, err := r.client.HGet(ctx, r.recKey(id), "cache").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("xstamp: delete %q: %w", id, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.recKey(id))
		p.ZRem(ctx, r.zsetKey(cacheName), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("xstamp: delete %q: %w", id, err)
	}
	return nil
}

// Scan 以 (score, member) 为游标分批读取，不使用偏移量。
//
// 每批从上一批最后的分数开始（含），跳过同分且 member 不小于游标的成员。
// 扫描期间被刷新到更高分数的成员不会被再次访问。
// 分数相同的成员按字典序降序返回，与其他实现一致。
func (r *redisIndex) Scan(ctx context.Context, cacheName string, fn func(Record) bool) error {
	key := r.zsetKey(cacheName)
	var (
		started bool
		score   float64
		lastID  string
		ties    int64 // 上一批中与游标同分的成员数，下一批开头会重新出现
	)
	for {
		limit := scanBatch + ties
		by := &redis.ZRangeBy{Max: "+inf", Min: "-inf", Count: limit}
		if started {
			by.Max = strconv.FormatFloat(score, 'f', -1, 64)
		}
		batch, err := r.client.ZRevRangeByScoreWithScores(ctx, key, by).Result()
		if err != nil {
			return fmt.Errorf("xstamp: scan %q: %w", cacheName, err)
		}
		ties = 0
		for _, z := range batch {
			id, ok := z.Member.(string)
			if !ok {
				continue
			}
			if started && z.Score == score && id >= lastID {
				ties++
				continue
			}
			rec := Record{
				ID:        id,
				URL:       urlFromID(cacheName, id),
				Timestamp: int64(z.Score),
				CacheName: cacheName,
			}
			if !fn(rec) {
				return nil
			}
			if !started || z.Score != score {
				ties = 0
			}
			started, score, lastID = true, z.Score, id
			ties++
		}
		if int64(len(batch)) < limit {
			return nil
		}
	}
}

func (r *redisIndex) Close() error { return nil }
