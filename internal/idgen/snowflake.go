package idgen

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	sequenceBits   = 12
	workerBits     = 5
	datacenterBits = 5

	workerShift     = sequenceBits
	datacenterShift = sequenceBits + workerBits
	timestampShift  = sequenceBits + workerBits + datacenterBits

	sequenceMask = int64(1)<<sequenceBits - 1
	maxWorkerID  = int64(1)<<workerBits - 1
	maxDCID      = int64(1)<<datacenterBits - 1
)

// DefaultEpochMillis 是自定义纪元 2023-11-14T22:13:20Z。
const DefaultEpochMillis int64 = 1700000000000

// ErrNodeID 表示 datacenter/worker 超出位宽。
var ErrNodeID = errors.New("idgen: node id out of range")

// Parts 是拆解后的标识各字段。
type Parts struct {
	TimestampMillis int64
	DatacenterID    int64
	WorkerID        int64
	Sequence        int64
}

// Generator 生成按时间递增的 snowflake 标识。
// 唯一性依赖部署时为每个并行实例分配不同的 (datacenter, worker)。
type Generator struct {
	mu           sync.Mutex
	epoch        int64
	datacenterID int64
	workerID     int64
	lastMillis   int64
	sequence     int64
	now          func() time.Time
}

// Option 调整生成器行为。
type Option func(*Generator)

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithEpoch 设置自定义纪元（毫秒）。
func WithEpoch(epochMillis int64) Option {
	return func(g *Generator) {
		if epochMillis > 0 {
			g.epoch = epochMillis
		}
	}
}

// New 创建生成器。
func New(datacenterID, workerID int64, opts ...Option) (*Generator, error) {
	if datacenterID < 0 || datacenterID > maxDCID {
		return nil, fmt.Errorf("%w: datacenter=%d", ErrNodeID, datacenterID)
	}
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("%w: worker=%d", ErrNodeID, workerID)
	}
	g := &Generator{
		epoch:        DefaultEpochMillis,
		datacenterID: datacenterID,
		workerID:     workerID,
		lastMillis:   -1,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli() - g.epoch
}

// NextID 返回下一个整型标识，对同一生成器严格递增。
func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.millis()
	if ts < g.lastMillis {
		// 时钟回拨时沿用上一次的逻辑时间
		ts = g.lastMillis
	}

	if ts == g.lastMillis {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			if g.millis() < g.lastMillis {
				// 回拨期间不等墙钟追上，直接借用下一毫秒
				ts = g.lastMillis + 1
			} else {
				// 序号耗尽，自旋到下一毫秒，最长约 1ms
				for ts <= g.lastMillis {
					ts = g.millis()
				}
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMillis = ts

	return ts<<timestampShift | g.datacenterID<<datacenterShift | g.workerID<<workerShift | g.sequence
}

// Next 返回 "<market>_<id>" 形式的订单号。
func (g *Generator) Next(market string) string {
	return market + "_" + strconv.FormatInt(g.NextID(), 10)
}

// Decompose 拆解整型标识。
func (g *Generator) Decompose(id int64) Parts {
	return Parts{
		TimestampMillis: id>>timestampShift + g.epoch,
		DatacenterID:    id >> datacenterShift & maxDCID,
		WorkerID:        id >> workerShift & maxWorkerID,
		Sequence:        id & sequenceMask,
	}
}
