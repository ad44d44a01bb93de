// Package xexpire 按条目数和存活时间淘汰缓存条目。
//
// # 核心类型
//
//   - [Manager]：单个分区的过期管理，维护时间戳并执行清理
//   - [Plugin]：xstrategy 插件，在读写时驱动 Manager
//   - [Policy]：MaxEntries 与 MaxAge，至少设置一项
//
// # 清理算法
//
// 按时间戳从新到旧扫描分区：早于 now-MaxAge 的记录，以及已保留满 MaxEntries
// 之后的记录被标记淘汰，其余计入保留数。标记结束后删除索引记录和存储中的响应。
// 因为扫描从新到旧，数量上限保留的是最近使用的条目。
//
// 设计决策: 清理不是事务性的。中途删除失败时已删除的条目保持删除，
// 下一次清理会继续处理剩余条目。
//
// # 触发时机
//
// 每次写入后同步清理；每次读取命中时在后台清理。因此按时间戳过期的条目
// 最多还会被多读到一次。Date 响应头提供额外的读取时新鲜度检查。
package xexpire
