package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/breaker"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/config"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/dispatch"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/engine"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/idgen"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/metrics"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/monitor"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/shard"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *store.Store
	newTarget func(config.DispatchConfig, *zap.Logger) (dispatch.Target, error)
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		newTarget: newTarget,
	}
}

// runtime 是一次运行装配出的组件。
type runtime struct {
	shards  *ShardSet
	journal *monitor.Service
	metrics *metrics.Collector
	target  dispatch.Target
	handler http.Handler
}

// Run 启动分片引擎与 HTTP 接入层，直到 ctx 结束后按顺序关闭：
// 先停止接入，再清空各引擎缓冲区，最后关闭生产者。
func (a *App) Run(ctx context.Context) error {
	target, err := a.newTarget(a.cfg.Dispatch, a.logger)
	if err != nil {
		return err
	}

	rt, err := a.build(target)
	if err != nil {
		_ = target.Close()
		return err
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      rt.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	a.logger.Info("订单引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("profile", string(a.cfg.Engine.Profile)),
		zap.String("driver", string(a.cfg.Dispatch.Driver)),
		zap.Ints("shards", a.cfg.Shard.OwnedShards()),
		zap.String("addr", a.cfg.Server.Addr),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: HTTP 服务异常: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		a.logger.Info("系统收到退出信号，正在停止")
		return a.shutdown(srv, rt)
	})

	return group.Wait()
}

func (a *App) build(target dispatch.Target) (*runtime, error) {
	collector := metrics.NewCollector(nil)

	var (
		journal *monitor.Service
		err     error
	)
	if a.store != nil {
		journal, err = monitor.NewService(a.store, a.logger)
		if err != nil {
			return nil, err
		}
	}

	codec, err := dispatch.NewCodec(a.cfg.Dispatch.Encoding)
	if err != nil {
		return nil, err
	}

	policy := order.Policy{Kind: order.KindLimit, RequireUser: a.cfg.Engine.RequireUser}
	if a.cfg.Engine.Profile == config.ProfileMarket {
		policy.Kind = order.KindMarket
	}

	router := shard.NewRouter(a.cfg.Shard.Count)
	engines := make(map[int]*engine.Engine)
	for _, idx := range a.cfg.Shard.OwnedShards() {
		name := shard.Name(idx)
		logger := a.logger.With(zap.String("shard", name))

		ids, err := idgen.New(
			a.cfg.Identifier.DatacenterID,
			a.cfg.Identifier.WorkerID+int64(idx),
			idgen.WithEpoch(a.cfg.Identifier.EpochMillis),
		)
		if err != nil {
			return nil, fmt.Errorf("app: %s: %w", name, err)
		}

		breakerOpts := []breaker.Option{
			breaker.WithLogger(logger.Named("breaker")),
			breaker.WithStateListener(collector.BreakerListener(name)),
		}
		observers := engine.Observers{collector.ForShard(name)}
		if journal != nil {
			breakerOpts = append(breakerOpts, breaker.WithStateListener(journal.BreakerListener(name)))
			observers = append(observers, journal.FlushObserver())
		}

		eng, err := engine.New(engine.Options{
			Name:             name,
			Topic:            a.cfg.Engine.Topic,
			BatchSize:        a.cfg.Engine.BatchSize,
			MaxQueueSize:     a.cfg.Engine.MaxQueueSize,
			FlushInterval:    a.cfg.Engine.FlushInterval,
			SendTimeout:      a.cfg.Dispatch.SendTimeout,
			MaxOrdersPerSide: a.cfg.Book.MaxOrdersPerSide,
			AssignIDs:        a.cfg.Engine.AssignIDs,
			Policy:           policy,
		}, engine.Dependencies{
			Target:   target,
			Codec:    codec,
			Breaker:  breaker.New(a.cfg.Breaker.MaxFailures, a.cfg.Breaker.ResetTimeout, breakerOpts...),
			IDs:      ids,
			Observer: observers,
			Logger:   a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %s: %w", name, err)
		}
		engines[idx] = eng
	}
	if len(engines) == 0 {
		return nil, errors.New("app: 没有需要运行的分片")
	}

	shards := newShardSet(router, engines, policy, collector, a.logger.Named("shards"))

	handlers := &httpHandlers{
		shards:  shards,
		journal: journal,
		logger:  a.logger.Named("http"),
	}
	if a.store != nil {
		handlers.health = a.store
	}
	var metricsHandler http.Handler
	if a.cfg.Metrics.Enabled {
		metricsHandler = collector.Handler()
	}

	return &runtime{
		shards:  shards,
		journal: journal,
		metrics: collector,
		target:  target,
		handler: newRouter(handlers, a.cfg.Metrics.Path, metricsHandler),
	}, nil
}

func (a *App) shutdown(srv *http.Server, rt *runtime) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var err error
	if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("app: 关闭 HTTP 服务失败: %w", shutdownErr))
	}

	closeErr := rt.shards.Close(ctx, func(name string, closeErr error) {
		if closeErr != nil {
			a.logger.Warn("引擎关闭时发送失败", zap.String("shard", name), zap.Error(closeErr))
		}
		if rt.journal != nil {
			rt.journal.RecordEngineClosed(ctx, name, closeErr)
		}
	})
	err = multierr.Append(err, closeErr)

	if targetErr := rt.target.Close(); targetErr != nil {
		err = multierr.Append(err, fmt.Errorf("app: 关闭生产者失败: %w", targetErr))
	}
	return err
}
