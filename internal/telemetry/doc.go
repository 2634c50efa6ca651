// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 TutorFlow 提供 TracerProvider 与 MeterProvider。
// 禁用时不连接任何外部服务，Tracer 与 MeterProvider 返回 noop 实现，
// 供 LLM 调用埋点与 HTTP 追踪中间件直接使用。
package telemetry
