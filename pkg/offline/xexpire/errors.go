package xexpire

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig 是所有配置错误的根错误。
	ErrInvalidConfig = errors.New("xexpire: invalid config")

	// ErrMaxEntriesOrAgeRequired 表示 MaxEntries 和 MaxAge 都未设置（或为负数）。
	ErrMaxEntriesOrAgeRequired = fmt.Errorf("%w: max entries or max age required", ErrInvalidConfig)

	// ErrMaxAgeRequired 表示在未设置 MaxAge 的管理器上调用 IsURLExpired。
	ErrMaxAgeRequired = fmt.Errorf("%w: IsURLExpired requires max age", ErrInvalidConfig)

	// ErrDefaultCacheName 表示尝试对默认运行时缓存启用过期。
	// 默认缓存可能被多个策略共享，只能对显式命名的缓存做过期管理。
	ErrDefaultCacheName = fmt.Errorf("%w: expiration requires a custom cache name", ErrInvalidConfig)

	// ErrNilStorage 表示未提供响应存储。
	ErrNilStorage = fmt.Errorf("%w: nil storage", ErrInvalidConfig)

	// ErrNilIndex 表示未提供时间戳索引。
	ErrNilIndex = fmt.Errorf("%w: nil index", ErrInvalidConfig)
)
