package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/breaker"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/engine"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
)

// StatusAccepted 是成功接收订单时的 status 标签。
const StatusAccepted = "accepted"

// Collector 汇总所有分片引擎的指标。
type Collector struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	buffered     *prometheus.GaugeVec
	flushLatency *prometheus.HistogramVec
	flushes      *prometheus.CounterVec
	batchSize    *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
}

// NewCollector 在 reg 上注册指标，reg 为空时新建注册表并附带运行时指标。
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "order_request_total",
			Help: "Total order submissions by outcome.",
		}, []string{"shard", "status"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_evictions_total",
			Help: "Orders evicted from a full book side.",
		}, []string{"shard", "side"}),
		buffered: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "order_buffer_size",
			Help: "Orders waiting for the next flush.",
		}, []string{"shard"}),
		flushLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flush_duration_seconds",
			Help:    "Time spent dispatching one batch.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		}, []string{"shard", "result"}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flush_batches_total",
			Help: "Dispatched batches by result.",
		}, []string{"shard", "result"}),
		batchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flush_batch_size",
			Help:    "Orders per dispatched batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"shard"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"shard"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"shard", "to"}),
	}
}

// Handler 返回 /metrics 处理器。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordRejection 记录引擎之外的拒绝，例如分片不匹配。
func (c *Collector) RecordRejection(shard, reason string) {
	c.requests.WithLabelValues(shard, reason).Inc()
}

// BreakerListener 返回写入熔断指标的状态回调。
func (c *Collector) BreakerListener(shard string) breaker.StateListener {
	c.breakerState.WithLabelValues(shard).Set(float64(breaker.StateClosed))
	return func(_, to breaker.State) {
		c.breakerState.WithLabelValues(shard).Set(float64(to))
		c.transitions.WithLabelValues(shard, to.String()).Inc()
	}
}

// ForShard 返回某个分片引擎的观察者。
func (c *Collector) ForShard(shard string) engine.Observer {
	return &shardObserver{c: c, shard: shard}
}

type shardObserver struct {
	c     *Collector
	shard string
}

func (o *shardObserver) OrderAdmitted(order.Order) {
	o.c.requests.WithLabelValues(o.shard, StatusAccepted).Inc()
}

func (o *shardObserver) OrderRejected(reason string) {
	o.c.requests.WithLabelValues(o.shard, reason).Inc()
}

func (o *shardObserver) OrderEvicted(ord order.Order) {
	o.c.evictions.WithLabelValues(o.shard, string(ord.Side)).Inc()
}

func (o *shardObserver) BufferChanged(size int) {
	o.c.buffered.WithLabelValues(o.shard).Set(float64(size))
}

func (o *shardObserver) FlushStarted(string, int) {}

func (o *shardObserver) FlushFinished(info engine.FlushInfo) {
	result := "success"
	if info.Err != nil {
		result = "failure"
	}
	o.c.flushLatency.WithLabelValues(o.shard, result).Observe(info.Duration.Seconds())
	o.c.flushes.WithLabelValues(o.shard, result).Inc()
	o.c.batchSize.WithLabelValues(o.shard).Observe(float64(info.Size))
}
