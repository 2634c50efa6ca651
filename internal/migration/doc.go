/*
包 migration 管理 TutorFlow 的 SQL Schema，基于 golang-migrate。

# 概述

session_snapshots 与 quiz_attempts 两张表的迁移脚本按方言内嵌在
migrations/{sqlite,postgres,mysql} 目录中，版本记录在 schema_migrations。
sqlite 使用纯 Go 的 glebarez/go-sqlite 驱动打开连接。迁移操作接受
context，取消时在当前脚本完成后停止。

# 核心类型

  - Migrator：Up、Down、Reset、Steps、Goto、Force、Version、Status。
  - Status：当前版本、各脚本是否已应用，以及两张业务表是否存在与行数。
  - OpenConfig / OpenURL：从 config.DatabaseConfig 或命令行参数打开迁移器。
*/
package migration
