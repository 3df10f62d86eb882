package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/breaker"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/dispatch"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/idgen"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/orderbook"
)

var (
	// ErrBackpressure 表示待发送缓冲区已满，调用方应退避重试。
	ErrBackpressure = errors.New("engine: buffer full")
	// ErrClosed 表示引擎已关闭。
	ErrClosed = errors.New("engine: closed")
)

// 默认参数。
const (
	DefaultBatchSize     = 150
	DefaultMaxQueueSize  = 25000
	DefaultFlushInterval = 550 * time.Millisecond
	DefaultSendTimeout   = 30 * time.Second
	DefaultTopic         = "order_topic"
)

// Options 控制单个引擎实例。
type Options struct {
	Name             string
	Topic            string
	BatchSize        int
	MaxQueueSize     int
	FlushInterval    time.Duration
	SendTimeout      time.Duration
	MaxOrdersPerSide int
	AssignIDs        bool
	Policy           order.Policy
}

func (o *Options) applyDefaults() {
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
}

// Dependencies 是引擎的外部协作者。Target 必填，其余可为空。
type Dependencies struct {
	Target    dispatch.Target
	Codec     dispatch.Codec
	Breaker   *breaker.Breaker
	IDs       *idgen.Generator
	Scheduler Scheduler
	Observer  Observer
	Logger    *zap.Logger
}

// Stats 是引擎的运行时快照。
type Stats struct {
	Name            string `json:"name"`
	Buffered        int    `json:"buffered"`
	Bids            int    `json:"bids"`
	Asks            int    `json:"asks"`
	BookCapacity    int    `json:"bookCapacity"`
	FlushInProgress bool   `json:"flushInProgress"`
	TimerPending    bool   `json:"timerPending"`
	Breaker         string `json:"breaker"`
	Closed          bool   `json:"closed"`
}

// Engine 接收订单、维护订单簿，并按批量或定时把缓冲区发送到下游。
// 同一实例内任意时刻最多只有一次发送在进行。
type Engine struct {
	opts      Options
	validator *order.Validator
	target    dispatch.Target
	codec     dispatch.Codec
	breaker   *breaker.Breaker
	ids       *idgen.Generator
	sched     Scheduler
	observer  Observer
	logger    *zap.Logger

	mu        sync.Mutex
	book      *orderbook.Book
	buffer    []order.Order
	flushing  bool
	flushDone chan struct{}
	timer     Timer
	timerGen  uint64
	immediate bool
	closed    bool
}

// New 创建引擎。
func New(opts Options, deps Dependencies) (*Engine, error) {
	if deps.Target == nil {
		return nil, errors.New("engine: target 不能为空")
	}
	opts.applyDefaults()
	if opts.BatchSize > opts.MaxQueueSize {
		return nil, fmt.Errorf("engine: batch size %d 大于队列上限 %d", opts.BatchSize, opts.MaxQueueSize)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")
	if opts.Name != "" {
		logger = logger.With(zap.String("shard", opts.Name))
	}

	codec := deps.Codec
	if codec == nil {
		c, err := dispatch.NewCodec("msgpack")
		if err != nil {
			return nil, err
		}
		codec = c
	}
	br := deps.Breaker
	if br == nil {
		br = breaker.New(0, 0, breaker.WithLogger(logger))
	}
	ids := deps.IDs
	if ids == nil && opts.AssignIDs {
		g, err := idgen.New(0, 0)
		if err != nil {
			return nil, err
		}
		ids = g
	}
	sched := deps.Scheduler
	if sched == nil {
		sched = SystemScheduler{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	return &Engine{
		opts:      opts,
		validator: order.NewValidator(opts.Policy),
		target:    dispatch.WithTimeout(deps.Target, opts.SendTimeout),
		codec:     codec,
		breaker:   br,
		ids:       ids,
		sched:     sched,
		observer:  observer,
		logger:    logger,
		book:      orderbook.New(opts.MaxOrdersPerSide, logger),
		buffer:    make([]order.Order, 0, opts.BatchSize),
	}, nil
}

// Name 返回引擎名称。
func (e *Engine) Name() string {
	return e.opts.Name
}

// Submit 校验并接收一个订单。校验失败与背压都不会修改任何状态。
func (e *Engine) Submit(raw order.RawOrder) (order.Order, error) {
	o, err := e.validator.Validate(raw)
	if err != nil {
		e.observer.OrderRejected(RejectValidation)
		return order.Order{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.observer.OrderRejected(RejectClosed)
		return order.Order{}, ErrClosed
	}
	if len(e.buffer) >= e.opts.MaxQueueSize {
		e.observer.OrderRejected(RejectBackpressure)
		e.logger.Warn("待发送队列已满，拒绝订单",
			zap.String("market", o.Market),
			zap.Int("buffered", len(e.buffer)),
			zap.Int("max_queue_size", e.opts.MaxQueueSize),
		)
		return order.Order{}, ErrBackpressure
	}

	if e.opts.AssignIDs {
		o.OrderID = e.ids.Next(o.Market)
	}

	if evicted, ok := e.book.Insert(o); ok {
		e.observer.OrderEvicted(evicted)
	}
	e.buffer = append(e.buffer, o)

	e.observer.OrderAdmitted(o)
	e.observer.BufferChanged(len(e.buffer))
	e.logger.Debug("订单已接收",
		zap.String("order_id", o.OrderID),
		zap.String("market", o.Market),
		zap.String("side", string(o.Side)),
		zap.Int("buffered", len(e.buffer)),
	)

	e.scheduleLocked()
	return o, nil
}

// scheduleLocked 评估触发条件：达到批量且无发送进行中时安排立即发送，
// 否则在没有定时器时启动一个。定时器不会被后续订单重置。
func (e *Engine) scheduleLocked() {
	if e.closed || len(e.buffer) == 0 {
		return
	}
	if len(e.buffer) >= e.opts.BatchSize && !e.flushing {
		if !e.immediate {
			e.immediate = true
			e.sched.Go(e.runImmediate)
		}
		return
	}
	if e.timer == nil {
		e.timerGen++
		gen := e.timerGen
		e.timer = e.sched.AfterFunc(e.opts.FlushInterval, func() { e.runTimer(gen) })
	}
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) runImmediate() {
	e.mu.Lock()
	e.immediate = false
	e.mu.Unlock()
	_ = e.Flush(context.Background())
}

func (e *Engine) runTimer(gen uint64) {
	e.mu.Lock()
	if e.timer == nil || e.timerGen != gen {
		// 已被取消或替换
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.mu.Unlock()
	_ = e.Flush(context.Background())
}

// Flush 发送当前缓冲区。缓冲区为空或已有发送进行中时直接返回。
// 失败的批次只记录日志，不会重新入队。
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.flushing || len(e.buffer) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.takeBatchLocked()
	e.mu.Unlock()

	return e.send(ctx, batch)
}

// takeBatchLocked 取出并清空缓冲区，之后接收的订单进入新缓冲区。
func (e *Engine) takeBatchLocked() []order.Order {
	e.stopTimerLocked()
	e.flushing = true
	e.flushDone = make(chan struct{})

	batch := e.buffer
	e.buffer = make([]order.Order, 0, e.opts.BatchSize)
	e.observer.BufferChanged(0)
	return batch
}

func (e *Engine) send(ctx context.Context, batch []order.Order) error {
	batchID := uuid.NewString()
	started := time.Now()

	e.observer.FlushStarted(batchID, len(batch))
	e.logger.Info("开始发送批次",
		zap.String("batch_id", batchID),
		zap.Int("size", len(batch)),
	)

	err := e.dispatch(ctx, batchID, batch)
	elapsed := time.Since(started)

	if err != nil {
		e.logger.Error("批次发送失败，批次已丢弃",
			zap.String("batch_id", batchID),
			zap.Int("size", len(batch)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		e.logger.Info("批次发送完成",
			zap.String("batch_id", batchID),
			zap.Int("size", len(batch)),
			zap.Duration("elapsed", elapsed),
		)
	}
	e.observer.FlushFinished(FlushInfo{
		Engine:   e.opts.Name,
		BatchID:  batchID,
		Size:     len(batch),
		Duration: elapsed,
		Err:      err,
	})

	e.mu.Lock()
	e.flushing = false
	close(e.flushDone)
	// 发送期间累积的订单可能错过了触发条件，这里补一次
	e.scheduleLocked()
	e.mu.Unlock()

	return err
}

func (e *Engine) dispatch(ctx context.Context, batchID string, batch []order.Order) error {
	payload, err := e.codec.Encode(batch)
	if err != nil {
		return err
	}
	msg := dispatch.Message{
		Key:   []byte(batchID),
		Value: payload,
		Headers: []dispatch.Header{
			{Key: "batch-id", Value: []byte(batchID)},
			{Key: "encoding", Value: []byte(e.codec.Name())},
			{Key: "count", Value: []byte(strconv.Itoa(len(batch)))},
		},
	}
	return e.breaker.Call(ctx, func(ctx context.Context) error {
		return e.target.Send(ctx, e.opts.Topic, []dispatch.Message{msg})
	})
}

// TopOrders 按排名返回某一侧最多 limit 个订单。
func (e *Engine) TopOrders(side order.Side, limit int) []order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.PeekTop(side, limit)
}

// TopMarketOrders 只返回指定市场的订单，同一分片可承载多个市场。
func (e *Engine) TopMarketOrders(market string, side order.Side, limit int) []order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.PeekTopFunc(side, limit, func(o order.Order) bool {
		return o.Market == market
	})
}

// Stats 返回运行时快照。
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Name:            e.opts.Name,
		Buffered:        len(e.buffer),
		Bids:            e.book.Len(order.SideBuy),
		Asks:            e.book.Len(order.SideSell),
		BookCapacity:    e.book.Cap(),
		FlushInProgress: e.flushing,
		TimerPending:    e.timer != nil,
		Breaker:         e.breaker.State().String(),
		Closed:          e.closed,
	}
}

// Close 停止接收订单，等待进行中的发送结束，并把剩余订单发送一次。
// 可重复调用。不关闭下游 Target，Target 由创建者负责。
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.stopTimerLocked()
	}

	for e.flushing {
		done := e.flushDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("engine: 等待发送结束超时: %w", ctx.Err())
		}
		e.mu.Lock()
	}

	if len(e.buffer) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.takeBatchLocked()
	e.mu.Unlock()

	e.logger.Info("关闭前发送剩余订单", zap.Int("size", len(batch)))
	return e.send(ctx, batch)
}
