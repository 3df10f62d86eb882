package orderbook

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
)

// DefaultMaxOrdersPerSide 是单边默认容量。
const DefaultMaxOrdersPerSide = 10000

// entry 携带插入序号，同价位按先进先出排序。
type entry struct {
	order order.Order
	seq   uint64
}

// side 是单边有界有序集合：Min 为最优，Max 为最差。
type side struct {
	tree *btree.BTreeG[entry]
}

func newSide(better func(a, b decimal.Decimal) bool) *side {
	less := func(a, b entry) bool {
		if !a.order.Price.Equal(b.order.Price) {
			return better(a.order.Price, b.order.Price)
		}
		return a.seq < b.seq
	}
	return &side{
		tree: btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
	}
}

// Book 维护买卖两侧的挂单排名，不做撮合，也不支持撤单。
// Book 不是并发安全的，由持有它的引擎串行访问。
type Book struct {
	bids    *side
	asks    *side
	maxSize int
	seq     uint64
	logger  *zap.Logger
}

// New 创建订单簿，maxPerSide<=0 时使用默认容量。
func New(maxPerSide int, logger *zap.Logger) *Book {
	if maxPerSide <= 0 {
		maxPerSide = DefaultMaxOrdersPerSide
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{
		bids:    newSide(func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }),
		asks:    newSide(func(a, b decimal.Decimal) bool { return a.LessThan(b) }),
		maxSize: maxPerSide,
		logger:  logger,
	}
}

func (b *Book) side(s order.Side) *side {
	switch s {
	case order.SideBuy:
		return b.bids
	case order.SideSell:
		return b.asks
	default:
		return nil
	}
}

// Insert 将订单放入对应一侧。超过容量时淘汰该侧排名最差的订单并返回它，
// 被淘汰的可能正是刚插入的订单。
func (b *Book) Insert(o order.Order) (order.Order, bool) {
	s := b.side(o.Side)
	if s == nil {
		return order.Order{}, false
	}

	b.seq++
	s.tree.Set(entry{order: o, seq: b.seq})

	if s.tree.Len() <= b.maxSize {
		return order.Order{}, false
	}

	worst, ok := s.tree.PopMax()
	if !ok {
		return order.Order{}, false
	}
	b.logger.Debug("订单簿超出容量，淘汰最差订单",
		zap.String("side", string(o.Side)),
		zap.String("order_id", worst.order.OrderID),
		zap.String("market", worst.order.Market),
		zap.String("price", worst.order.Price.String()),
		zap.String("amount", worst.order.Amount.String()),
	)
	return worst.order, true
}

// PeekTop 按排名返回最多 limit 个订单，不修改订单簿。
func (b *Book) PeekTop(s order.Side, limit int) []order.Order {
	return b.PeekTopFunc(s, limit, nil)
}

// PeekTopFunc 与 PeekTop 相同，但只返回 keep 接受的订单。
func (b *Book) PeekTopFunc(s order.Side, limit int, keep func(order.Order) bool) []order.Order {
	sd := b.side(s)
	if sd == nil || limit <= 0 {
		return []order.Order{}
	}

	n := sd.tree.Len()
	if limit < n {
		n = limit
	}
	out := make([]order.Order, 0, n)
	sd.tree.Scan(func(e entry) bool {
		if keep == nil || keep(e.order) {
			out = append(out, e.order)
		}
		return len(out) < limit
	})
	return out
}

// Worst 返回该侧当前排名最差的订单。
func (b *Book) Worst(s order.Side) (order.Order, bool) {
	sd := b.side(s)
	if sd == nil {
		return order.Order{}, false
	}
	e, ok := sd.tree.Max()
	return e.order, ok
}

// Len 返回该侧订单数量。
func (b *Book) Len(s order.Side) int {
	sd := b.side(s)
	if sd == nil {
		return 0
	}
	return sd.tree.Len()
}

// Cap 返回单边容量。
func (b *Book) Cap() int {
	return b.maxSize
}
