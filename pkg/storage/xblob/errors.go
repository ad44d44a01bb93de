package xblob

import "errors"

var (
	// ErrNilClient 表示传入的客户端为 nil。
	ErrNilClient = errors.New("xblob: nil client")

	// ErrNilRequest 表示请求键为 nil 或缺少 URL。
	ErrNilRequest = errors.New("xblob: nil request")

	// ErrNilResponse 表示写入的响应为 nil。
	ErrNilResponse = errors.New("xblob: nil response")

	// ErrMethodNotAllowed 表示尝试以非 GET 请求为键写入。
	ErrMethodNotAllowed = errors.New("xblob: only GET requests can be cached")

	// ErrQuotaExceeded 表示写入超出存储配额。
	// 调用方可以用 errors.Is 识别并触发配额回收。
	ErrQuotaExceeded = errors.New("xblob: storage quota exceeded")

	// ErrCacheDeleted 表示分区已被删除，旧的 Cache 句柄不再可写。
	ErrCacheDeleted = errors.New("xblob: cache has been deleted")

	// ErrEmptyName 表示分区名称为空。
	ErrEmptyName = errors.New("xblob: empty cache name")

	// ErrInvalidQuota 表示配额配置为负数。
	ErrInvalidQuota = errors.New("xblob: quota must not be negative")
)
