// Package xstamp 提供缓存条目的时间戳索引。
//
// 每条记录以 cacheName|url 为主键，保存最近一次使用时间。过期管理器按
// 时间戳从新到旧遍历某个分区，找出超龄或超量的条目。
//
// # 实现
//
//   - [NewMemory]：进程内 map，重启即丢失
//   - [NewSQLite]：gorm + 纯 Go SQLite（glebarez/sqlite），(cache_name, timestamp) 复合索引
//   - [NewRedis]：每条记录一个 Hash，每个分区一个按时间戳打分的 ZSET
//
// 三种实现的遍历顺序一致：时间戳降序，相同时按 ID 降序。
package xstamp
