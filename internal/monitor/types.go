package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventFlushFailed       EventType = "flush_failed"
	EventBreakerTransition EventType = "breaker_transition"
	EventEngineClosed      EventType = "engine_closed"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Shard     string      `json:"shard,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// FlushFailedPayload 记录被丢弃的批次。
type FlushFailedPayload struct {
	Shard      string `json:"shard"`
	BatchID    string `json:"batchId"`
	Size       int    `json:"size"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error"`
}

// BreakerTransitionPayload 记录熔断器状态切换。
type BreakerTransitionPayload struct {
	Shard string `json:"shard"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// EngineClosedPayload 记录引擎关闭时的最终状态。
type EngineClosedPayload struct {
	Shard string `json:"shard"`
	Error string `json:"error,omitempty"`
}
