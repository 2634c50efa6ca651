/*
包 database 负责打开 TutorFlow 的 SQL 数据库并管理连接池。

# 概述

Open 根据 config.DatabaseConfig 选择 gorm 方言（sqlite 使用纯 Go 的
glebarez/sqlite，另支持 postgres 与 mysql），随后交给 PoolManager
统一设置最大连接数、生命周期与空闲回收。后台健康检查定时探活，
并把连接数上报给 StatsRecorder（通常是 metrics.Collector）。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    GetStats()、ReportTo()、Close()。
  - PoolConfig：连接池参数，可由 PoolConfigFrom 从全局配置生成。
  - StatsRecorder：连接数指标的接收方。
*/
package database
