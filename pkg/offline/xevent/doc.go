// Package xevent 提供请求生命周期令牌和后台任务原语。
//
// # 核心类型
//
//   - [Task]：已启动的异步工作，可等待、可读取错误
//   - [Event]：宿主随请求下发的令牌，引擎通过 WaitUntil 延长生命周期
//   - [Tracker]：宿主侧的 Event 实现，优雅关闭时等待全部后台工作
//
// # 设计决策
//
// Task 只表示"已开始的工作"，不提供取消能力。放弃一个 Task 只意味着不再等待它，
// 工作本身继续执行直到结束（fire-and-forget）。
package xevent
