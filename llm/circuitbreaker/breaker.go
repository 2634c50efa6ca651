package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/tutorflow/llm"
	"go.uber.org/zap"
)

// State 熔断状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 拒绝所有调用，直到 ResetTimeout 过去
	StateOpen
	// StateHalfOpen 放行少量试探调用
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断参数
type Config struct {
	// Threshold 连续失败多少次后打开
	Threshold int `json:"threshold" yaml:"threshold"`
	// ResetTimeout 打开后多久进入半开
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
	// HalfOpenMaxCalls 半开状态下同时放行的试探调用数
	HalfOpenMaxCalls int `json:"half_open_max_calls" yaml:"half_open_max_calls"`
	// OnStateChange 状态变化回调，在持锁外同步调用
	OnStateChange func(from, to State) `json:"-" yaml:"-"`
}

// DefaultConfig 返回默认参数
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

var (
	// ErrOpen 熔断打开，调用被拒绝
	ErrOpen = errors.New("circuit breaker is open")
	// ErrHalfOpenBusy 半开状态的试探名额已用完
	ErrHalfOpenBusy = errors.New("circuit breaker is half-open and at capacity")
)

// Breaker 按连续失败次数熔断的状态机。每次调用先 Allow，再把结果交给
// 返回的 done。
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

// New 创建熔断器，非正数参数取默认值
func New(cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		now:    time.Now,
	}
}

// Allow 申请一次调用。被拒绝时返回 ErrOpen 或 ErrHalfOpenBusy；
// 否则调用方必须以调用结果恰好调用一次 done。
func (b *Breaker) Allow() (done func(err error), err error) {
	b.mu.Lock()
	var changed []State
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		changed = b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			b.notify(changed)
			return nil, ErrHalfOpenBusy
		}
		b.trials++
	}
	trial := b.state == StateHalfOpen
	b.mu.Unlock()
	b.notify(changed)

	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(trial, err) })
	}, nil
}

// record 记录一次调用结果。调用方的问题（参数、鉴权、内容过滤、取消）
// 不算上游故障，只归还试探名额。
func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	if trial && b.trials > 0 {
		b.trials--
	}

	var changed []State
	switch {
	case err == nil:
		b.failures = 0
		if b.state == StateHalfOpen {
			changed = b.setState(StateClosed)
		}
	case !countsAsFailure(err):
	default:
		b.failures++
		switch {
		case b.state == StateHalfOpen:
			changed = b.setState(StateOpen)
		case b.state == StateClosed && b.failures >= b.cfg.Threshold:
			changed = b.setState(StateOpen)
		}
	}
	failures := b.failures
	b.mu.Unlock()

	if len(changed) == 2 && changed[1] == StateOpen {
		b.logger.Warn("circuit opened", zap.Int("consecutive_failures", failures), zap.Error(err))
	}
	b.notify(changed)
}

// setState 在持锁状态下切换，返回 [from, to] 供解锁后通知
func (b *Breaker) setState(to State) []State {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		b.trials = 0
	case StateClosed:
		b.failures = 0
		b.trials = 0
	}
	return []State{from, to}
}

func (b *Breaker) notify(changed []State) {
	if len(changed) != 2 {
		return
	}
	b.logger.Info("circuit state changed",
		zap.String("from", changed[0].String()),
		zap.String("to", changed[1].String()))
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(changed[0], changed[1])
	}
}

// State 返回当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.setState(StateClosed)
	b.failures = 0
	b.mu.Unlock()
	b.notify(changed)
}

// Do 在熔断保护下执行 fn
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	done, err := b.Allow()
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := fn()
	done(err)
	return v, err
}

func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if llmErr, ok := llm.AsError(err); ok {
		switch llmErr.Code {
		case llm.ErrInvalidRequest, llm.ErrUnauthorized, llm.ErrForbidden, llm.ErrContentFiltered:
			return false
		}
	}
	return true
}
