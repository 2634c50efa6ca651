// 版权所有 2026 TutorFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、健康检查、
JSON 序列化与有序索引，是 Redis 会话快照存储的底层。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete/Exists 等基础操作、GetJSON/SetJSON 便捷序列化，
    以及 IndexAdd/IndexRemove/IndexRecent 有序索引。
  - Config：缓存配置，包含地址、密码、键前缀、连接池大小、默认 TTL、
    TLS 开关与健康检查间隔等参数。

# 主要能力

  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警，Close 时退出。
  - 错误语义：提供 ErrCacheMiss / ErrClosed 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
