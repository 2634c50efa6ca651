package circuitbreaker

import (
	"context"
	"errors"
	"net/http"

	"github.com/BaSui01/tutorflow/llm"
	"go.uber.org/zap"
)

// Provider 在 llm.Provider 前加一道熔断：端点连续失败后快速返回
// ErrProviderUnavailable，而不是让每个 agent 都等到超时。
// 流的结果以整条流为准，中途出现错误分片也算一次失败。
type Provider struct {
	inner   llm.Provider
	breaker *Breaker
}

// WrapProvider 用给定参数包装 Provider
func WrapProvider(inner llm.Provider, cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		inner:   inner,
		breaker: New(cfg, logger.With(zap.String("provider", inner.Name()))),
	}
}

// Breaker 返回底层熔断器
func (p *Provider) Breaker() *Breaker { return p.breaker }

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	done, err := p.breaker.Allow()
	if err != nil {
		return nil, p.rejected(err)
	}
	resp, err := p.inner.Completion(ctx, req)
	done(err)
	return resp, err
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	done, err := p.breaker.Allow()
	if err != nil {
		return nil, p.rejected(err)
	}
	ch, err := p.inner.Stream(ctx, req)
	if err != nil {
		done(err)
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var streamErr error
		defer func() { done(streamErr) }()
		for {
			select {
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			case chunk, ok := <-ch:
				if !ok {
					return
				}
				if chunk.Err != nil {
					streamErr = chunk.Err
				}
				select {
				case <-ctx.Done():
					streamErr = ctx.Err()
					return
				case out <- chunk:
				}
			}
		}
	}()
	return out, nil
}

// HealthCheck 熔断打开时直接报告不健康
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	if p.breaker.State() == StateOpen {
		return &llm.HealthStatus{Healthy: false}, p.rejected(ErrOpen)
	}
	return p.inner.HealthCheck(ctx)
}

// rejected 把熔断拒绝转换为 503 语义的 llm.Error，同时保留 ErrOpen / ErrHalfOpenBusy
func (p *Provider) rejected(err error) error {
	return &rejectedError{
		llmErr: &llm.Error{
			Code:       llm.ErrProviderUnavailable,
			Message:    err.Error(),
			HTTPStatus: http.StatusServiceUnavailable,
			Provider:   p.inner.Name(),
		},
		cause: err,
	}
}

type rejectedError struct {
	llmErr *llm.Error
	cause  error
}

func (e *rejectedError) Error() string   { return e.llmErr.Error() }
func (e *rejectedError) Unwrap() []error { return []error{e.llmErr, e.cause} }

// IsRejected 报告错误是否来自熔断拒绝
func IsRejected(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrHalfOpenBusy)
}
