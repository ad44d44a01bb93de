package xplugin

import "errors"

var (
	// ErrInvalidConfig 表示插件配置无效。
	ErrInvalidConfig = errors.New("xplugin: invalid config")

	// ErrNoParams 表示 IgnoreParams 没有给出任何要忽略的参数。
	ErrNoParams = errors.New("xplugin: no params to ignore")

	// ErrNoCriteria 表示 CacheableResponse 既没有状态码也没有响应头条件。
	ErrNoCriteria = errors.New("xplugin: statuses or headers required")
)
