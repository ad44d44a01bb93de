// Package offline 提供请求级缓存引擎的各个组件。
//
// 子包列表：
//   - xresponse: 可复制、可存储的响应值
//   - xevent: 后台任务与宿主生命周期（WaitUntil）
//   - xroute: 按方法和匹配条件把请求分派给处理器
//   - xstrategy: 策略基类、插件钩子和 Cache-First 策略
//   - xexpire: 按条目数和存活时间淘汰缓存
//   - xplugin: 缓存键、可缓存判定和指标插件
//   - xfetch: 带重试和熔断的上游客户端
//   - xhost: net/http 与 gin 适配
package offline
