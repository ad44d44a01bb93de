// Package xroute 把请求分派给匹配的处理器。
//
// # 匹配规则
//
// [Router.Register] 接受三种匹配规则：
//
//   - 字符串：以 '/' 或 'http' 开头，相对 Router 源解析后按完整 URL 相等匹配
//   - *regexp.Regexp：匹配完整 URL；跨域请求要求从 URL 开头匹配，捕获分组作为参数
//   - MatchFunc：自定义函数，返回值决定是否命中以及携带的参数
//
// 同一方法下先注册的路由优先。没有路由命中时使用该方法的默认处理器，
// 仍没有则 [Router.HandleRequest] 返回 handled=false，请求交还给调用方。
//
// # 错误处理
//
// 处理器返回错误或 panic 时，先尝试路由级 catch 处理器，再尝试全局 catch 处理器。
// panic 被恢复为 [ErrHandlerPanic]，与普通错误走同一条路径。
//
// # 预热
//
// [Router.Warm] 用正常路由并发处理一组 URL，命中缓存策略的路由会把响应写入缓存。
package xroute
