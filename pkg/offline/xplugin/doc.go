// Package xplugin 提供常用的缓存策略插件。
//
//   - [IgnoreParams]：生成缓存键时去掉跟踪类查询参数（utm_*、__rev 等）
//   - [CacheableResponse]：按状态码/响应头白名单决定是否写入缓存
//   - [Metrics]：用 OpenTelemetry 计数器记录命中、网络请求和写入
//
// 过期管理插件在 xexpire 包中。插件按注册顺序调用：
//
//	ignore, _ := xplugin.NewIgnoreParams([]string{"utm_source", "utm_medium"}, 0)
//	metrics, _ := xplugin.NewMetrics(nil)
//	strategy, err := xstrategy.NewCacheFirst(storage, fetcher,
//	    xstrategy.WithCacheName("previews"),
//	    xstrategy.WithPlugins(ignore, metrics, expirePlugin))
package xplugin
