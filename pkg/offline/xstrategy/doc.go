// Package xstrategy 实现缓存策略及其请求处理流水线。
//
// # 核心类型
//
//   - [Handler]：一次请求的执行上下文，提供 Fetch / FetchAndCachePut / CacheMatch / CachePut
//     以及后台任务登记（WaitUntil / DoneWaiting）
//   - [Base]：策略公共部分，负责创建 Handler 并编排生命周期钩子
//   - [CacheFirst]：缓存优先策略
//
// # 插件
//
// 插件是任意实现了一个或多个钩子接口的值，例如 [CacheWillUpdate]、[CacheDidUpdate]。
// Handler 创建时按接口把插件分组，之后按注册顺序调用。每个插件在一次请求内
// 拥有独立的 [State]。
//
// # 错误
//
//   - [*PluginError]：钩子返回错误，errors.Is(err, ErrPlugin)
//   - [*NoResponseError]：缓存和网络都没有可用响应，errors.Is(err, ErrNoResponse)
//   - [*NotCacheableError]：尝试缓存非 GET 请求或空响应，errors.Is(err, ErrNotCacheable)
//   - 网络错误不包装，直接返回或作为 NoResponseError 的原因
//
// # 后台工作
//
// 网络响应写入缓存、过期插件的清理等工作在后台执行，不阻塞响应返回。
// [Base.Run] 返回的任务在这些工作全部结束后完成；后台错误不会让已经返回的响应失败。
package xstrategy
