// Copyright 2026 TutorFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供 OpenAI 兼容协议（含 Azure OpenAI）的共享转换与错误映射，
是 openaicompat 子包的公共基础层。

# 核心类型

  - OpenAICompat* 系列 — OpenAI 兼容 API 的通用请求/响应结构体

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - ReadErrorMessage — 解析上游错误响应体
  - ConvertMessagesToOpenAI — 统一消息格式转换（Agent 名称写入 name 字段）
  - ToLLMChatResponse — OpenAI 兼容响应到 llm.ChatResponse 的转换
  - ChooseModel — 按优先级选择模型（请求 > 默认）
*/
package providers
