// Package xblob 提供按分区隔离的响应存储。
//
// 存储以请求（去掉 fragment 的 URL）为键保存完整响应，是离线缓存引擎的
// 响应层；条目的时间戳由 xstamp 单独索引，两者通过过期管理器保持一致。
//
// # 实现
//
//   - [NewMemory]：进程内存储，可设置字节配额
//   - [NewRedis]：Redis 存储，可选 ristretto 本地读缓存（[WithLocalCache]）
//
// # 匹配规则
//
// 默认只有 GET 请求参与匹配，键需完全一致。[MatchOptions] 可放宽为
// 忽略查询字符串或忽略方法。[MatchIgnoreParams] 在比较前移除指定的查询参数，
// 用于查找同一资源的旧版本。
//
// # 配额
//
// 写入超出配额时返回 [ErrQuotaExceeded]。Redis 实现把服务端 maxmemory
// 拒绝（OOM）映射为同一错误，调用方可以统一处理。
//
// 设计决策: 存储从不自行淘汰条目。ristretto、LRU 这类自淘汰结构会悄悄丢弃响应，
// 使时间戳索引与存储不一致，因此本地缓存只作为 Redis 前的读副本使用。
package xblob
