/*
Package types 提供 tutorflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 tutor、llm、api
等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - Context 传播      — WithTraceID / WithUserID / WithSessionID / WithAgentName
*/
package types
