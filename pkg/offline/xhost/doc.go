// Package xhost 把 xroute.Router 接入 HTTP 服务。
//
// 提供三种入口：
//   - [HTTPMiddleware] / [Handler]：net/http 中间件，未被路由处理的请求交给下一个处理器
//   - [GinMiddleware]：gin 中间件，处理后调用 c.Abort，否则 c.Next
//   - [WarmHandler]：预热接口，POST 一组 URL 经正常路由写入缓存
//
// 请求被改写为绝对地址后交给 Router：配置 [WithUpstream] 时指向上游（缓存代理模式），
// 否则按 Host 和 X-Forwarded-Proto 还原原始地址。每个请求带有请求 ID，
// 优先沿用请求头中的值。
//
// 处理失败按错误类型映射状态码，见 [StatusFor]。
package xhost
