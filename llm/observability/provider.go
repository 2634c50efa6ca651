package observability

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/tutorflow/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	statusSuccess  = "success"
	statusError    = "error"
	statusCanceled = "canceled"
)

// Recorder 接收每次 LLM 调用的结果，internal/metrics.Collector 实现了该接口
type Recorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// Options 可观测性包装选项，零值使用全局 TracerProvider 与 MeterProvider
type Options struct {
	Tracer   trace.Tracer
	Metrics  *Metrics
	Recorder Recorder
	Logger   *zap.Logger
}

// Provider 为 llm.Provider 增加 span、指标与调用日志
type Provider struct {
	inner    llm.Provider
	tracer   trace.Tracer
	metrics  *Metrics
	recorder Recorder
	logger   *zap.Logger
}

// Instrument 包装 Provider
func Instrument(inner llm.Provider, opts Options) *Provider {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Metrics == nil {
		if m, err := NewMetrics(otel.GetMeterProvider()); err == nil {
			opts.Metrics = m
		} else {
			opts.Logger.Warn("llm metrics unavailable", zap.Error(err))
		}
	}
	return &Provider{
		inner:    inner,
		tracer:   opts.Tracer,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		logger:   opts.Logger.With(zap.String("component", "llm_observability"), zap.String("provider", inner.Name())),
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

// call 一次调用的观测状态
type call struct {
	p     *Provider
	ctx   context.Context
	span  trace.Span
	model string
	attrs []attribute.KeyValue
	start time.Time
}

func (p *Provider) begin(ctx context.Context, op string, req *llm.ChatRequest) (context.Context, *call) {
	model := req.Model
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", p.inner.Name()),
		attribute.String("llm.model", model),
	}
	spanAttrs := append([]attribute.KeyValue{
		attribute.String("llm.operation", op),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	}, attrs...)
	if agent := req.Metadata["agent"]; agent != "" {
		spanAttrs = append(spanAttrs, attribute.String("tutor.agent", agent))
	}
	if purpose := req.Metadata["purpose"]; purpose != "" {
		spanAttrs = append(spanAttrs, attribute.String("llm.purpose", purpose))
	}
	if req.TraceID != "" {
		spanAttrs = append(spanAttrs, attribute.String("llm.request_id", req.TraceID))
	}

	ctx, span := p.tracer.Start(ctx, "llm."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(spanAttrs...))
	c := &call{p: p, ctx: ctx, span: span, model: model, attrs: attrs, start: time.Now()}
	if p.metrics != nil {
		p.metrics.start(ctx, attrs)
	}
	return ctx, c
}

func (c *call) end(usage llm.ChatUsage, err error) {
	d := time.Since(c.start)
	status := statusSuccess
	switch {
	case err == nil:
		c.span.SetStatus(codes.Ok, "")
	case errors.Is(err, context.Canceled):
		status = statusCanceled
		c.span.SetStatus(codes.Error, "canceled")
	default:
		status = statusError
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
		if le, ok := llm.AsError(err); ok {
			c.span.SetAttributes(attribute.String("llm.error_code", string(le.Code)), attribute.Bool("llm.retryable", le.Retryable))
		}
	}
	c.span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", usage.CompletionTokens),
	)
	c.span.End()

	if c.p.metrics != nil {
		c.p.metrics.finish(c.ctx, c.attrs, status, d, usage.PromptTokens, usage.CompletionTokens)
	}
	if c.p.recorder != nil {
		c.p.recorder.RecordLLMRequest(c.p.inner.Name(), c.model, status, d, usage.PromptTokens, usage.CompletionTokens)
	}
	if status == statusError {
		c.p.logger.Warn("llm call failed", zap.String("model", c.model), zap.Duration("duration", d), zap.Error(err))
	} else {
		c.p.logger.Debug("llm call finished",
			zap.String("model", c.model),
			zap.String("status", status),
			zap.Duration("duration", d),
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens))
	}
}

// Completion 实现 llm.Provider
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, c := p.begin(ctx, "completion", req)
	resp, err := p.inner.Completion(ctx, req)
	if err != nil {
		c.end(llm.ChatUsage{}, err)
		return nil, err
	}
	c.end(resp.Usage, nil)
	return resp, nil
}

// Stream 实现 llm.Provider。span 在流结束（通道关闭、出错或 ctx 取消）时结束。
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ctx, c := p.begin(ctx, "stream", req)
	in, err := p.inner.Stream(ctx, req)
	if err != nil {
		c.end(llm.ChatUsage{}, err)
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var usage llm.ChatUsage
		var streamErr error
		defer func() { c.end(usage, streamErr) }()

		for {
			select {
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			case chunk, ok := <-in:
				if !ok {
					streamErr = ctx.Err()
					return
				}
				if chunk.Usage != nil {
					usage = *chunk.Usage
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
				if streamErr != nil {
					return
				}
			}
		}
	}()
	return out, nil
}
