package xstamp

import "errors"

var (
	// ErrNilClient 表示传入的客户端为 nil。
	ErrNilClient = errors.New("xstamp: nil client")

	// ErrInvalidRecord 表示记录缺少 ID 或分区名。
	ErrInvalidRecord = errors.New("xstamp: record requires id and cache name")

	// ErrClosed 表示索引已关闭。
	ErrClosed = errors.New("xstamp: index closed")
)
