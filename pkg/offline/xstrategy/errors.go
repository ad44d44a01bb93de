package xstrategy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig 表示策略配置无效（缺少存储或网络客户端等）。
	ErrInvalidConfig = errors.New("xstrategy: invalid config")

	// ErrPlugin 是 *PluginError 的哨兵，用于 errors.Is。
	ErrPlugin = errors.New("xstrategy: plugin error")

	// ErrNoResponse 是 *NoResponseError 的哨兵，用于 errors.Is。
	ErrNoResponse = errors.New("xstrategy: no response")

	// ErrNotCacheable 是 *NotCacheableError 的哨兵，用于 errors.Is。
	ErrNotCacheable = errors.New("xstrategy: not cacheable")
)

// PluginError 表示插件钩子返回了错误并中止了当前操作。
type PluginError struct {
	// Hook 出错的钩子名称，例如 "requestWillFetch"。
	Hook string
	// Err 插件返回的原始错误。
	Err error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("xstrategy: plugin error in %s: %v", e.Hook, e.Err)
}

// Is 使 errors.Is(err, ErrPlugin) 成立。
func (e *PluginError) Is(target error) bool { return target == ErrPlugin }

func (e *PluginError) Unwrap() error { return e.Err }

// NoResponseError 表示缓存和网络都没有产生可用响应。
type NoResponseError struct {
	// URL 请求地址。
	URL string
	// Err 网络错误；缓存未命中且网络返回错误响应时为 nil。
	Err error
}

func (e *NoResponseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("xstrategy: no response for %s", e.URL)
	}
	return fmt.Sprintf("xstrategy: no response for %s: %v", e.URL, e.Err)
}

// Is 使 errors.Is(err, ErrNoResponse) 成立。
func (e *NoResponseError) Is(target error) bool { return target == ErrNoResponse }

func (e *NoResponseError) Unwrap() error { return e.Err }

// NotCacheableError 表示尝试缓存不可缓存的请求或空响应。
type NotCacheableError struct {
	URL    string
	Method string
	// Reason 拒绝原因。
	Reason string
}

func (e *NotCacheableError) Error() string {
	return fmt.Sprintf("xstrategy: cannot cache %s %s: %s", e.Method, e.URL, e.Reason)
}

// Is 使 errors.Is(err, ErrNotCacheable) 成立。
func (e *NotCacheableError) Is(target error) bool { return target == ErrNotCacheable }

// 拒绝原因。
const (
	ReasonNonGET     = "only GET requests can be cached"
	ReasonNoResponse = "no response to cache"
)
