package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/BaSui01/tutorflow/api/handlers"
	"github.com/BaSui01/tutorflow/config"
	"github.com/BaSui01/tutorflow/internal/metrics"
	"github.com/BaSui01/tutorflow/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// publicPaths 不需要鉴权的端点
var publicPaths = []string{"/health", "/healthz", "/ready", "/version", "/metrics"}

// Server 是 TutorFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	deps      *Dependencies
	registry  *prometheus.Registry
	collector *metrics.Collector

	// Handlers
	healthHandler  *handlers.HealthHandler
	chatHandler    *handlers.ChatHandler
	sessionHandler *handlers.SessionHandler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 装配依赖与路由。ctx 结束时后台清理任务（限流器）一并退出。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("tutorflow", registry, logger)

	deps, err := newDependencies(ctx, cfg, collector, logger)
	if err != nil {
		return nil, err
	}
	return newServer(ctx, cfg, deps, registry, collector, logger), nil
}

func newServer(ctx context.Context, cfg *config.Config, deps *Dependencies, registry *prometheus.Registry, collector *metrics.Collector, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		deps:      deps,
		registry:  registry,
		collector: collector,
	}
	s.initHandlers()

	s.httpManager = server.NewManager("api", s.handler(ctx), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		s.metricsManager = server.NewManager("metrics", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.ReadTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger)
	}
	return s
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}, s.deps.Sessions.Count, s.logger)
	for _, check := range s.deps.HealthChecks() {
		s.healthHandler.RegisterCheck(check)
	}

	s.chatHandler = handlers.NewChatHandler(s.deps.Primary, s.cfg.LLM.Primary.Model, s.logger)
	s.sessionHandler = handlers.NewSessionHandler(s.deps.Sessions, originHosts(s.cfg.Server.CORSAllowedOrigins), s.logger)

	s.logger.Info("Handlers initialized")
}

// routes 注册全部 API 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion)

	// 直连模型的聊天
	mux.HandleFunc("POST /chat", s.chatHandler.HandleCompletion)
	mux.HandleFunc("POST /chat/stream", s.chatHandler.HandleStream)

	// 辅导会话
	s.sessionHandler.Register(mux)

	return mux
}

// handler 构建中间件链
func (s *Server) handler(ctx context.Context) http.Handler {
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.Server.APIKeys, publicPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}
	if s.cfg.Server.JWT.Secret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, publicPaths, s.logger))
	}
	return Chain(s.routes(), middlewares...)
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动 API 与 Metrics 服务器，阻塞到 ctx 结束或任一服务器出错，
// 之后保存会话并释放依赖
func (s *Server) Run(ctx context.Context) error {
	s.deps.Sessions.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	err := g.Wait()

	s.logger.Info("Starting graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	s.deps.Close(shutdownCtx)
	s.logger.Info("Graceful shutdown completed")

	return err
}

// originHosts 把 CORS 来源转换为 WebSocket 的 host 匹配模式
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
