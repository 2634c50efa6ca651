package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/BaSui01/tutorflow/llm"

// Metrics LLM 调用的 OpenTelemetry 指标
type Metrics struct {
	// 计数器
	requestTotal metric.Int64Counter
	tokenTotal   metric.Int64Counter
	errorTotal   metric.Int64Counter
	// 直方图
	requestDuration metric.Float64Histogram
	// 进行中
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics 在给定 MeterProvider 上创建指标
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	m.tokenTotal, err = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of LLM errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("LLM request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000))
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("Number of in-flight LLM requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) start(ctx context.Context, attrs []attribute.KeyValue) {
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) finish(ctx context.Context, attrs []attribute.KeyValue, status string, d time.Duration, prompt, completion int) {
	opt := metric.WithAttributes(attrs...)
	m.activeRequests.Add(ctx, -1, opt)
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
	m.requestDuration.Record(ctx, float64(d.Milliseconds()), opt)
	if status != statusSuccess {
		m.errorTotal.Add(ctx, 1, opt)
	}
	if prompt > 0 {
		m.tokenTotal.Add(ctx, int64(prompt), metric.WithAttributes(append(attrs, attribute.String("type", "prompt"))...))
	}
	if completion > 0 {
		m.tokenTotal.Add(ctx, int64(completion), metric.WithAttributes(append(attrs, attribute.String("type", "completion"))...))
	}
}
