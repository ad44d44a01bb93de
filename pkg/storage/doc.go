// Package storage 提供离线缓存使用的存储子包。
//
// 子包列表：
//   - xblob: 按分区隔离的响应存储，支持内存（带字节配额）和 Redis（可选进程内读缓存）
//   - xstamp: 按分区划分、按时间戳排序的记录索引，支持内存、SQLite 和 Redis
//
// 两者之间没有事务：写入路径同时更新两边，删除路径先删索引再删响应。
package storage
