package retry

import (
	"context"

	"github.com/BaSui01/tutorflow/llm"
	"go.uber.org/zap"
)

// Provider 为 llm.Provider 的同步调用与流的建立阶段增加重试。
// 流一旦开始输出便不再重试，避免向客户端重复推送内容。
type Provider struct {
	inner   llm.Provider
	retryer *Retryer
}

// WrapProvider 用给定策略包装 Provider
func WrapProvider(inner llm.Provider, policy RetryPolicy, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		inner:   inner,
		retryer: NewRetryer(policy, logger.With(zap.String("provider", inner.Name()))),
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return Do(ctx, p.retryer, func() (*llm.ChatResponse, error) {
		return p.inner.Completion(ctx, req)
	})
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return Do(ctx, p.retryer, func() (<-chan llm.StreamChunk, error) {
		return p.inner.Stream(ctx, req)
	})
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}
