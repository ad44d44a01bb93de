package xstamp

import (
	"context"
	"strings"

	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// Record 是一条缓存条目的时间戳记录。
type Record struct {
	// ID 复合主键：cacheName + "|" + 规范化 URL。
	ID string `json:"id"`

	// URL 规范化后的 URL（去掉 fragment），与 xblob 的存储键一致。
	URL string `json:"url"`

	// Timestamp 最近一次使用时间，Unix 毫秒。
	Timestamp int64 `json:"timestamp"`

	// CacheName 所属分区。
	CacheName string `json:"cacheName"`
}

// Index 是按分区划分、按时间戳排序的记录索引。
// 所有实现都必须并发安全。
type Index interface {
	// Get 按 ID 读取记录。不存在时 ok 为 false。
	Get(ctx context.Context, id string) (rec Record, ok bool, err error)

	// Put 按 ID 插入或覆盖记录。
	Put(ctx context.Context, rec Record) error

	// Delete 按 ID 删除记录，不存在时不报错。
	Delete(ctx context.Context, id string) error

	// Scan 按时间戳从新到旧遍历 cacheName 分区的记录，时间戳相同时按 ID 降序。
	// fn 返回 false 时停止遍历。fn 内不应修改索引；
	// 其他 goroutine 的并发写入不会让同一条记录被访问两次。
	Scan(ctx context.Context, cacheName string, fn func(Record) bool) error

	// Close 释放实现持有的资源。
	Close() error
}

// NormalizeURL 去掉 URL 的 fragment。
func NormalizeURL(raw string) string {
	return xblob.KeyOfURL(raw)
}

// ID 返回 (cacheName, url) 对应的记录 ID。
func ID(cacheName, rawURL string) string {
	return cacheName + "|" + NormalizeURL(rawURL)
}

// NewRecord 以规范化 URL 构造记录。
func NewRecord(cacheName, rawURL string, timestamp int64) Record {
	u := NormalizeURL(rawURL)
	return Record{
		ID:        cacheName + "|" + u,
		URL:       u,
		Timestamp: timestamp,
		CacheName: cacheName,
	}
}

// urlFromID 从 ID 中还原 URL。
func urlFromID(cacheName, id string) string {
	return strings.TrimPrefix(id, cacheName+"|")
}

// compareNewest 是从新到旧排序的比较函数。
func compareNewest(a, b Record) int {
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	}
	return -strings.Compare(a.ID, b.ID)
}
