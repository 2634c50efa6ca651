// Copyright (c) TutorFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 TutorFlow 程序入口。

# 概述

cmd/tutorflow 把辅导群聊（Tutor、Evaluator、QuizCreator）装配成可执行程序：
HTTP/WebSocket 服务、终端内的控制台会话、数据库迁移、健康检查与版本查询。
配置来自 YAML 文件与 TUTORFLOW_ 环境变量，日志使用 zap，指标暴露给 Prometheus，
链路追踪经由 OpenTelemetry。

# 核心类型

  - Server        — 主服务器，管理 API 与 Metrics 双端口及优雅关闭
  - Dependencies  — serve 与 chat 共用的存储、模型与会话管理器
  - Console       — 在终端里运行单个辅导会话
  - Middleware    — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、chat、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、Metrics、
    OTelTracing、CORS、RateLimiter（按 IP）、APIKeyAuth、JWTAuth（HS256）
  - 模型调用链：openaicompat → retry → observability
  - 会话存储按配置选择 memory、redis 或 sql，只连接所选存储需要的后端
  - 优雅关闭：信号取消 ctx → 关闭 HTTP 与 Metrics → 保存会话 → 释放后端
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
