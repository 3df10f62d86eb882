package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/engine"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/shard"
)

// unroutedShard 是无法解析市场时拒绝计数使用的分片标签。
const unroutedShard = "unrouted"

// ErrWrongShard 表示市场归属的分片不由本进程负责。
var ErrWrongShard = errors.New("app: market belongs to another shard")

// WrongShardError 指明市场应路由到的分片。
type WrongShardError struct {
	Market string
	Shard  string
}

func (e *WrongShardError) Error() string {
	return fmt.Sprintf("app: market %s belongs to %s", e.Market, e.Shard)
}

func (e *WrongShardError) Unwrap() error {
	return ErrWrongShard
}

// rejecter 记录引擎之外的拒绝。
type rejecter interface {
	RecordRejection(shard, reason string)
}

// ShardSet 按市场把订单路由到本进程持有的分片引擎。
type ShardSet struct {
	router    *shard.Router
	engines   map[int]*engine.Engine
	validator *order.Validator
	rejects   rejecter
	logger    *zap.Logger
}

func newShardSet(router *shard.Router, engines map[int]*engine.Engine, policy order.Policy, rejects rejecter, logger *zap.Logger) *ShardSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShardSet{
		router:    router,
		engines:   engines,
		validator: order.NewValidator(policy),
		rejects:   rejects,
		logger:    logger,
	}
}

// Route 返回市场所属的引擎。
func (s *ShardSet) Route(market string) (*engine.Engine, error) {
	market = order.NormalizeMarket(market)
	idx := s.router.ShardFor(market)
	eng, ok := s.engines[idx]
	if !ok {
		return nil, &WrongShardError{Market: market, Shard: shard.Name(idx)}
	}
	return eng, nil
}

// Submit 先在接入层校验订单以确定市场，再交给所属引擎；引擎会独立再校验一次。
func (s *ShardSet) Submit(raw order.RawOrder) (order.Order, error) {
	o, err := s.validator.Validate(raw)
	if err != nil {
		if s.rejects != nil {
			s.rejects.RecordRejection(s.rejectShard(raw, err), engine.RejectValidation)
		}
		return order.Order{}, err
	}
	eng, err := s.Route(o.Market)
	if err != nil {
		if s.rejects != nil {
			s.rejects.RecordRejection(shard.Name(s.router.ShardFor(o.Market)), "wrong_shard")
		}
		s.logger.Debug("市场不属于本进程分片", zap.String("market", o.Market), zap.Error(err))
		return order.Order{}, err
	}
	return eng.Submit(raw)
}

// rejectShard 返回校验失败订单的计数标签：市场本身合法时为其所属分片。
func (s *ShardSet) rejectShard(raw order.RawOrder, err error) string {
	market := raw.MarketSymbol()
	var verr *order.ValidationError
	if market == "" || (errors.As(err, &verr) && verr.Field == "market") {
		return unroutedShard
	}
	return s.router.Name(market)
}

// Engines 按分片序号返回全部引擎。
func (s *ShardSet) Engines() []*engine.Engine {
	idx := make([]int, 0, len(s.engines))
	for i := range s.engines {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]*engine.Engine, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.engines[i])
	}
	return out
}

// Stats 返回全部引擎的快照。
func (s *ShardSet) Stats() []engine.Stats {
	engines := s.Engines()
	out := make([]engine.Stats, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Stats())
	}
	return out
}

// Close 依次关闭全部引擎并汇总错误，onClosed 可为空。
func (s *ShardSet) Close(ctx context.Context, onClosed func(name string, err error)) error {
	var err error
	for _, e := range s.Engines() {
		closeErr := e.Close(ctx)
		if onClosed != nil {
			onClosed(e.Name(), closeErr)
		}
		if closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", e.Name(), closeErr))
		}
	}
	return err
}
