// Copyright 2026 TutorFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 llm 定义辅导群聊使用的模型接入契约。

# 概述

上层（tutor、api/handlers）只依赖 [Provider] 接口与本包的请求/响应类型，
具体的 OpenAI 兼容实现、重试与可观测包装位于子包中，按需组合：

	openaicompat.New → circuitbreaker.WrapProvider → retry.WrapProvider → observability.Instrument

# 核心接口

  - [Provider]：Completion / Stream / HealthCheck / Name

# 核心类型

  - [ChatRequest] / [ChatResponse]：聊天请求与响应，Message.Name 记录群聊中的发言 Agent
  - [StreamChunk]：流式输出分片，最终分片可携带 usage 或错误
  - [Error] / [ErrorCode]：统一错误语义，含 HTTP 状态与 Retryable 标记
  - [HealthStatus]：健康检查结果

# 辅助函数

  - [FirstChoice]：安全取出第一个候选
  - [CollectStream]：汇总流式分片，可逐段回调

# 相关子包

  - llm/providers：OpenAI 兼容协议的共享转换与错误映射
  - llm/providers/openaicompat：OpenAI / Azure OpenAI 实现
  - llm/circuitbreaker：连续失败熔断，打开时以 503 ErrProviderUnavailable 快速失败
  - llm/retry：指数退避重试
  - llm/observability：OTel 追踪、指标与 Prometheus 记录
  - llm/tokenizer：tiktoken 计数与估算回退
*/
package llm
