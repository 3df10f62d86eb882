package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDispatchTimeout 表示发送未在超时时间内完成。
var ErrDispatchTimeout = errors.New("dispatch: send timed out")

// Header 是消息头。
type Header struct {
	Key   string
	Value []byte
}

// Message 是发往下游的一条消息。
type Message struct {
	Key     []byte
	Value   []byte
	Headers []Header
}

// Target 是下游消息中间件生产者。
type Target interface {
	Send(ctx context.Context, topic string, msgs []Message) error
	Close() error
}

type timeoutTarget struct {
	Target
	timeout time.Duration
}

// WithTimeout 让发送与计时器竞速，先到者决定结果。
// 超时后底层发送收到取消信号，但不会被等待。
func WithTimeout(target Target, timeout time.Duration) Target {
	if timeout <= 0 {
		return target
	}
	return &timeoutTarget{Target: target, timeout: timeout}
}

func (t *timeoutTarget) Send(ctx context.Context, topic string, msgs []Message) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.Target.Send(sendCtx, topic, msgs)
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrDispatchTimeout, t.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
