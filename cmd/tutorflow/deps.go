package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/tutorflow/api/handlers"
	"github.com/BaSui01/tutorflow/config"
	"github.com/BaSui01/tutorflow/internal/cache"
	"github.com/BaSui01/tutorflow/internal/database"
	"github.com/BaSui01/tutorflow/internal/metrics"
	"github.com/BaSui01/tutorflow/internal/telemetry"
	"github.com/BaSui01/tutorflow/llm"
	"github.com/BaSui01/tutorflow/llm/circuitbreaker"
	"github.com/BaSui01/tutorflow/llm/observability"
	"github.com/BaSui01/tutorflow/llm/providers/openaicompat"
	"github.com/BaSui01/tutorflow/llm/retry"
	"github.com/BaSui01/tutorflow/tracker"
	"github.com/BaSui01/tutorflow/tutor"
	"github.com/BaSui01/tutorflow/tutor/persistence"
	"go.uber.org/zap"
)

var (
	_ tutor.Metrics             = (*metrics.Collector)(nil)
	_ observability.Recorder    = (*metrics.Collector)(nil)
	_ database.StatsRecorder    = (*metrics.Collector)(nil)
	_ handlers.SessionService   = (*tutor.Manager)(nil)
	_ persistence.AttemptLog    = (*persistence.MemoryStore)(nil)
	_ tutor.SelectionStrategy   = tutor.PromptSelection{}
	_ tutor.TerminationStrategy = tutor.PromptTermination{}
)

// =============================================================================
// 🧩 依赖装配
// =============================================================================

// Dependencies serve 与 chat 共用的组件
type Dependencies struct {
	Telemetry *telemetry.Providers
	DB        *database.PoolManager
	Cache     *cache.Manager
	Store     persistence.Store
	Primary   llm.Provider
	Secondary llm.Provider
	Sessions  *tutor.Manager

	logger *zap.Logger
}

// newDependencies 按配置装配存储、模型与会话管理器。collector 为空时不记录
// Prometheus 指标。
func newDependencies(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*Dependencies, error) {
	d := &Dependencies{logger: logger}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		otelProviders = nil
	}
	d.Telemetry = otelProviders

	if err := d.openBackends(cfg, collector); err != nil {
		d.Close(ctx)
		return nil, err
	}

	d.Primary, d.Secondary = newProviders(cfg.LLM, otelProviders, collector, logger)

	var sessionMetrics tutor.Metrics
	if collector != nil {
		sessionMetrics = collector
	}
	factory := newChatFactory(cfg, d.Primary, d.Secondary, sessionMetrics, logger)
	d.Sessions = tutor.NewManager(d.Store, factory, managerConfig(cfg.Tutor), sessionMetrics, logger)
	return d, nil
}

// openBackends 只连接所选存储需要的后端
func (d *Dependencies) openBackends(cfg *config.Config, collector *metrics.Collector) error {
	backends := persistence.Backends{}

	switch persistence.StoreType(cfg.Store.Type) {
	case persistence.StoreTypeRedis:
		cm, err := cache.NewManager(cacheConfig(cfg.Redis), d.logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		d.Cache = cm
		backends.Cache = cm

	case persistence.StoreTypeSQL:
		pm, err := database.Open(cfg.Database, d.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if collector != nil {
			pm.ReportTo(cfg.Database.Driver, collector)
		}
		d.DB = pm
		backends.DB = pm.DB()
	}

	store, err := persistence.NewStore(persistence.StoreConfig{
		Type:        persistence.StoreType(cfg.Store.Type),
		TTL:         cfg.Store.TTL,
		AutoMigrate: cfg.Store.AutoMigrate,
	}, backends, d.logger)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}
	d.Store = store
	d.logger.Info("session store ready", zap.String("type", cfg.Store.Type))
	return nil
}

// HealthChecks 返回就绪检查：存储、已连接的后端与主模型
func (d *Dependencies) HealthChecks() []handlers.HealthCheck {
	checks := []handlers.HealthCheck{
		handlers.NewCheck("store", d.Sessions.Ping),
	}
	if d.Cache != nil {
		checks = append(checks, handlers.NewCheck("redis", d.Cache.Ping))
	}
	if d.DB != nil {
		checks = append(checks, handlers.NewCheck("database", d.DB.Ping))
	}
	if d.Primary != nil {
		primary := d.Primary
		checks = append(checks, handlers.NewCheck("llm", func(ctx context.Context) error {
			status, err := primary.HealthCheck(ctx)
			if err != nil {
				return err
			}
			if !status.Healthy {
				return errors.New("primary model unhealthy")
			}
			return nil
		}))
	}
	return checks
}

// Close 按依赖倒序释放
func (d *Dependencies) Close(ctx context.Context) {
	if d.Sessions != nil {
		if err := d.Sessions.Close(ctx); err != nil {
			d.logger.Error("session manager shutdown error", zap.Error(err))
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.logger.Error("session store shutdown error", zap.Error(err))
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.logger.Error("cache shutdown error", zap.Error(err))
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.logger.Error("database shutdown error", zap.Error(err))
		}
	}
	if d.Telemetry != nil {
		if err := d.Telemetry.Shutdown(ctx); err != nil {
			d.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
}

// =============================================================================
// 🤖 模型与群聊
// =============================================================================

// newProviders 创建主模型与次模型；次模型未配置时回落到主模型
func newProviders(cfg config.LLMConfig, otelProviders *telemetry.Providers, collector *metrics.Collector, logger *zap.Logger) (llm.Provider, llm.Provider) {
	if !cfg.Primary.Configured() {
		logger.Warn("primary model endpoint is not configured, model calls will fail")
	}
	primary := newModelProvider("primary", cfg.Primary, cfg, otelProviders, collector, logger)
	if !cfg.Secondary.Configured() {
		logger.Info("secondary model not configured, evaluator uses the primary model")
		return primary, primary
	}
	return primary, newModelProvider("secondary", cfg.Secondary, cfg, otelProviders, collector, logger)
}

// newModelProvider 组装 openaicompat → circuitbreaker → retry → observability。
// 熔断在重试之内，每次重试都计入失败；熔断打开后重试立即停止。
func newModelProvider(name string, m config.ModelConfig, cfg config.LLMConfig, otelProviders *telemetry.Providers, collector *metrics.Collector, logger *zap.Logger) llm.Provider {
	pc := openaicompat.Config{
		ProviderName: name,
		APIKey:       m.APIKey,
		BaseURL:      m.BaseURL,
		DefaultModel: m.Model,
		Timeout:      cfg.Timeout,
		Reasoning:    m.Reasoning,
	}
	if m.Provider == "azure" {
		pc.Azure = &openaicompat.AzureConfig{Deployment: m.Deployment, APIVersion: m.APIVersion}
	}

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("retrying model call",
			zap.String("provider", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	opts := observability.Options{Logger: logger}
	if otelProviders != nil {
		opts.Tracer = otelProviders.Tracer("tutorflow/llm")
		if om, err := observability.NewMetrics(otelProviders.MeterProvider()); err == nil {
			opts.Metrics = om
		} else {
			logger.Warn("llm otel metrics unavailable", zap.Error(err))
		}
	}
	if collector != nil {
		opts.Recorder = collector
	}

	inner := openaicompat.New(pc, logger)
	guarded := circuitbreaker.WrapProvider(inner, breakerConfig(cfg.Breaker), logger)
	return observability.Instrument(retry.WrapProvider(guarded, policy, logger), opts)
}

// newChatFactory 为每个会话创建 Tutor / Evaluator / QuizCreator 群聊
func newChatFactory(cfg *config.Config, primary, secondary llm.Provider, sessionMetrics tutor.Metrics, logger *zap.Logger) tutor.ChatFactory {
	primaryModel := cfg.LLM.Primary.Model
	secondaryModel := cfg.LLM.Secondary.Model
	if !cfg.LLM.Secondary.Configured() {
		secondaryModel = primaryModel
	}

	chatCfg := tutor.GroupChatConfig{
		MaxIterations:    cfg.Tutor.MaxIterations,
		HistorySize:      cfg.Tutor.HistorySize,
		TokenBudget:      cfg.Tutor.TokenBudget,
		TokenizerModel:   primaryModel,
		DisableStreaming: cfg.Tutor.DisableStreaming,
	}

	// 主模型不可用时模型驱动的策略只会一直回落，直接使用规则
	promptCapable := cfg.LLM.Primary.Configured()
	selectionMode, terminationMode := cfg.Tutor.Selection, cfg.Tutor.Termination
	if !promptCapable {
		selectionMode, terminationMode = "rule", "rule"
	}
	logger.Info("group chat strategies",
		zap.String("selection", selectionMode),
		zap.String("termination", terminationMode))

	return func() *tutor.GroupChat {
		agents := []*tutor.Agent{
			tutor.TutorAgent(primary, primaryModel, logger),
			tutor.EvaluatorAgent(secondary, secondaryModel, logger),
			tutor.QuizCreatorAgent(primary, primaryModel, logger),
		}

		var selection tutor.SelectionStrategy = tutor.RuleSelection{Initial: tutor.TutorName}
		if selectionMode == "prompt" {
			selection = tutor.PromptSelection{
				Provider: primary,
				Model:    primaryModel,
				Initial:  tutor.TutorName,
				Fallback: tutor.RuleSelection{Initial: tutor.TutorName},
				Logger:   logger,
			}
		}

		var termination tutor.TerminationStrategy = tutor.RuleTermination{Agents: []string{tutor.TutorName}}
		if terminationMode == "prompt" {
			termination = tutor.PromptTermination{
				Provider: primary,
				Model:    primaryModel,
				Agents:   []string{tutor.TutorName},
			}
		}

		return tutor.NewGroupChat(agents, selection, termination, chatCfg, sessionMetrics, logger)
	}
}

// managerConfig 把配置映射到会话管理器参数
func managerConfig(cfg config.TutorConfig) tutor.ManagerConfig {
	mc := tutor.DefaultManagerConfig()
	mc.Thresholds = tracker.Thresholds{
		MinAttempts:      cfg.MinAttempts,
		WrongFraction:    cfg.WrongFraction,
		ConsecutiveWrong: cfg.ConsecutiveWrong,
	}
	mc.IdleTimeout = cfg.IdleTimeout
	if cfg.SaveTimeout > 0 {
		mc.SaveTimeout = cfg.SaveTimeout
	}
	return mc
}

// breakerConfig 把熔断配置映射到 circuitbreaker 参数，未设置的字段取默认值
func breakerConfig(cfg config.BreakerConfig) circuitbreaker.Config {
	bc := circuitbreaker.DefaultConfig()
	if cfg.Threshold > 0 {
		bc.Threshold = cfg.Threshold
	}
	if cfg.ResetTimeout > 0 {
		bc.ResetTimeout = cfg.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls > 0 {
		bc.HalfOpenMaxCalls = cfg.HalfOpenMaxCalls
	}
	return bc
}

// cacheConfig 把 Redis 配置映射到缓存管理器参数
func cacheConfig(cfg config.RedisConfig) cache.Config {
	cc := cache.DefaultConfig()
	cc.Addr = cfg.Addr
	cc.Password = cfg.Password
	cc.DB = cfg.DB
	cc.TLS = cfg.TLS
	if cfg.PoolSize > 0 {
		cc.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		cc.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.KeyPrefix != "" {
		cc.KeyPrefix = cfg.KeyPrefix
	}
	return cc
}
