/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、LLM、
辅导会话与数据库连接池四个维度。

Collector 通过 promauto 注册到调用方提供的 Registerer（为空时使用
默认 registry），所有指标按 namespace 隔离。Collector 同时实现了
tutor.Metrics 与 observability.Recorder，会话层与 LLM 包装层直接
向它上报。

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx
  - LLM：请求总数、耗时、Token 用量（prompt/completion），按 provider/model 分组
  - 会话：状态转换、判分结果（correct/wrong/unmatched）、复习触发次数、
    agent 发言次数与耗时、内存中的会话数
  - 数据库：打开/空闲/使用中连接数
*/
package metrics
