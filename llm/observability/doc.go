/*
包 observability 为 LLM 调用提供 OpenTelemetry 追踪与指标。

Instrument 包装任意 llm.Provider：每次 Completion/Stream 都会开启一个
client span（携带 provider、model、发言 agent 与 token 用量），同时更新
OpenTelemetry 指标（请求数、错误数、耗时、token 数、进行中请求数），并把
结果交给可选的 Recorder（通常是 internal/metrics.Collector，对应 Prometheus
指标）。流式调用的 span 在通道关闭、出错或 ctx 取消时结束。
*/
package observability
