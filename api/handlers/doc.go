// Copyright (c) TutorFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 TutorFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了辅导服务的全部 HTTP 端点：会话生命周期、学生输入的
SSE / WebSocket 流式回复、直连模型的聊天补全、健康检查，以及统一的
响应与错误处理。所有 Handler 均遵循标准 net/http 接口，通过 Swagger
注解生成 API 文档。

# 核心类型

  - SessionHandler   — 会话创建、查询、重置、删除、判分记录与流式对话
  - ChatHandler      — 不经过 agent 群聊的聊天补全，支持同步与 SSE
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码，支持 Flush 与 Hijack
  - HealthCheck      — 可插拔健康检查接口（存储、Redis、数据库、模型）

# 流式协议

SSE 每帧为 `data: <json>`，依次出现 {"agent": ...}、{"content": ...}、
{"system": ...}、{"warning": ...} 或 {"error": ...}，一轮以带 state 的
结束帧收尾，最后是 `data: [DONE]`。WebSocket 使用同样的帧结构，
学生说再见时以正常关闭码结束连接。

# 错误映射

ToAPIError 把会话、存储与模型错误统一转换为 types.Error，
WriteError 再按 ErrorCode 映射 HTTP 状态码。
*/
package handlers
