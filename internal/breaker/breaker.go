package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen 表示熔断器处于打开状态，调用被直接拒绝。
var ErrCircuitOpen = errors.New("breaker: circuit open")

// State 是熔断器状态。
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateListener 在状态切换后被调用，不持有熔断器锁。
type StateListener func(from, to State)

// Breaker 对下游调用做失败计数：连续失败达到阈值后打开，
// 冷却期过后放行一次探测调用，成功则关闭，失败则重新打开。
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	nextAttempt  time.Time
	probing      bool
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	listeners    []StateListener
	logger       *zap.Logger
}

// Option 调整熔断器行为。
type Option func(*Breaker)

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStateListener 注册状态切换回调。
func WithStateListener(fn StateListener) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.listeners = append(b.listeners, fn)
		}
	}
}

// New 创建熔断器。maxFailures<=0 取 5，resetTimeout<=0 取 30s。
func New(maxFailures int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	b := &Breaker{
		state:        StateClosed,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call 在熔断器保护下执行 fn。打开状态下直接返回 ErrCircuitOpen，不调用 fn。
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.release(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	var change *transition
	switch b.state {
	case StateOpen:
		if !b.now().After(b.nextAttempt) {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		change = b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		// 同一时刻只放行一个探测
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()
	b.notify(change)
	return nil
}

func (b *Breaker) release(err error) {
	b.mu.Lock()
	var change *transition
	wasProbe := b.state == StateHalfOpen
	if wasProbe {
		b.probing = false
	}
	if err == nil {
		b.failures = 0
		if wasProbe {
			change = b.setState(StateClosed)
		}
	} else {
		b.failures++
		if wasProbe || (b.state == StateClosed && b.failures >= b.maxFailures) {
			b.nextAttempt = b.now().Add(b.resetTimeout)
			change = b.setState(StateOpen)
		}
	}
	failures := b.failures
	b.mu.Unlock()

	if err != nil {
		b.logger.Debug("下游调用失败", zap.Int("failures", failures), zap.Error(err))
	}
	b.notify(change)
}

type transition struct {
	from, to State
}

func (b *Breaker) setState(to State) *transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t == nil {
		return
	}
	fields := []zap.Field{
		zap.String("from", t.from.String()),
		zap.String("to", t.to.String()),
	}
	if t.to == StateOpen {
		b.logger.Warn("熔断器打开", fields...)
	} else {
		b.logger.Info("熔断器状态切换", fields...)
	}
	for _, fn := range b.listeners {
		fn(t.from, t.to)
	}
}

// State 返回当前状态。冷却期已过但尚未探测时仍报告 open。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures 返回连续失败次数。
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
