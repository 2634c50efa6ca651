// Package config 提供 TutorFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，环境变量使用
// TUTORFLOW_ 前缀并按结构体 env 标签逐级拼接，例如
// TUTORFLOW_TUTOR_MAX_ITERATIONS。旧版脚本的 AZURE_OPENAI_* 变量
// 作为模型端点的兜底来源。
package config
