package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/omeyang/xoffline/pkg/storage/xblob"
	"github.com/omeyang/xoffline/pkg/storage/xstamp"
)

// Expired 是一次清理中单个分区被淘汰的 URL。
type Expired struct {
	Cache string
	URLs  []string
}

// Expire 对每个启用过期管理的分区执行一次清理，按分区名排序。
// 某个分区的清理已在运行时该分区结果为空。
func (a *App) Expire(ctx context.Context) ([]Expired, error) {
	var (
		out  []Expired
		errs []error
	)
	for _, name := range slices.Sorted(maps.Keys(a.expirers)) {
		m, err := a.expirers[name].Manager(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		urls, err := m.ExpireEntries(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, Expired{Cache: name, URLs: urls})
	}
	return out, errors.Join(errs...)
}

// CacheStat 是单个分区的统计。
type CacheStat struct {
	Name string

	// Entries 存储中的响应数量。
	Entries int

	// Indexed 时间戳索引中的记录数量。
	Indexed int

	// Newest 和 Oldest 是索引中最新和最旧的时间戳，Indexed 为 0 时为零值。
	Newest time.Time
	Oldest time.Time
}

// Inspect 返回存储中每个分区的统计，以及配置了路由但尚未创建的分区。
func (a *App) Inspect(ctx context.Context) ([]CacheStat, error) {
	names, err := a.cacheNames(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]CacheStat, 0, len(names))
	for _, name := range names {
		st := CacheStat{Name: name}
		has, err := a.storage.Has(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("app: inspect %s: %w", name, err)
		}
		if has {
			c, err := a.storage.Open(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("app: inspect %s: %w", name, err)
			}
			keys, err := c.Keys(ctx, nil, xblob.MatchOptions{})
			if err != nil {
				return nil, fmt.Errorf("app: inspect %s: %w", name, err)
			}
			st.Entries = len(keys)
		}
		err = a.index.Scan(ctx, name, func(rec xstamp.Record) bool {
			ts := time.UnixMilli(rec.Timestamp)
			if st.Indexed == 0 {
				st.Newest = ts
			}
			st.Oldest = ts
			st.Indexed++
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("app: inspect %s: %w", name, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// Purge 删除指定分区的全部响应和时间戳，names 为空时删除全部分区。
// 返回实际存在并被删除的分区名。
func (a *App) Purge(ctx context.Context, names ...string) ([]string, error) {
	if len(names) == 0 {
		all, err := a.cacheNames(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}

	var purged []string
	for _, name := range names {
		indexed, err := a.purgeIndex(ctx, name)
		if err != nil {
			return purged, err
		}
		existed, err := a.storage.Delete(ctx, name)
		if err != nil {
			return purged, fmt.Errorf("app: delete cache %s: %w", name, err)
		}
		if existed || indexed > 0 {
			purged = append(purged, name)
		}
	}
	a.logInfo("purged caches", "caches", purged)
	return purged, nil
}

// purgeIndex 先收集再删除，Scan 回调内不能修改索引。
func (a *App) purgeIndex(ctx context.Context, name string) (int, error) {
	var ids []string
	err := a.index.Scan(ctx, name, func(rec xstamp.Record) bool {
		ids = append(ids, rec.ID)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("app: scan %s: %w", name, err)
	}
	for _, id := range ids {
		if err := a.index.Delete(ctx, id); err != nil {
			return 0, fmt.Errorf("app: delete timestamp %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// cacheNames 合并存储中已有的分区和路由配置的分区，按名称排序。
func (a *App) cacheNames(ctx context.Context) ([]string, error) {
	names, err := a.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: list caches: %w", err)
	}
	for _, r := range a.routes {
		names = append(names, r.cfg.CacheName)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}
