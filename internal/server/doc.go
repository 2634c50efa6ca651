/*
包 server 管理 TutorFlow 的 HTTP 服务器生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听，Run 阻塞直到
context 结束后优雅关闭，适合在 errgroup 中同时运行 API 与
metrics 两个服务器。异常退出通过 Errors() 通道传播。
*/
package server
