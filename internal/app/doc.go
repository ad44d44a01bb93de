// Package app 把 appconf 配置装配成 xofflined 守护进程。
//
// 请求经 gin 入口进入：路由命中的走 Cache-First 策略，其余反向代理到上游。
// 后台缓存写入登记到进程级 Tracker，优雅关闭时等待它们完成。
// 过期清理既在每次缓存读写时触发，也按 cron 计划定时执行。
package app
