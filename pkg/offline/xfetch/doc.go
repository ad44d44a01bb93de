// Package xfetch 提供缓存策略使用的网络 Fetcher。
//
// [Client] 包装 http.Client：
//   - 任何 HTTP 状态码都作为响应返回，由缓存策略和插件决定是否缓存
//   - GET/HEAD 的传输错误用 retry-go 指数退避重试，非幂等请求只尝试一次
//   - 连续的传输错误或 5xx 响应打开 gobreaker 熔断器，打开期间请求直接失败并返回 ErrCircuitOpen
//   - 响应体完整读入内存，超过 WithMaxBodySize 的上限返回 xresponse.ErrBodyTooLarge
//
// 基本用法：
//
//	fetcher := xfetch.New(
//	    xfetch.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
//	    xfetch.WithRetry(3, 200*time.Millisecond),
//	)
//	strategy, err := xstrategy.NewCacheFirst(storage, fetcher, xstrategy.WithCacheName("previews"))
package xfetch
