package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/app"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/config"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/log"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	logger.Info("配置已加载",
		zap.String("config", configSource(configPath)),
		zap.String("environment", cfg.App.Environment),
		zap.Int("shard_count", cfg.Shard.Count),
		zap.Ints("owned_shards", cfg.Shard.OwnedShards()),
		zap.String("driver", string(cfg.Dispatch.Driver)),
		zap.Strings("brokers", cfg.Dispatch.Brokers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger, sqliteStore).Run(ctx); err != nil {
		logger.Error("订单引擎运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("订单引擎已安全退出")
}

// configSource 描述配置来源，未指定路径时为可选的默认文件。
func configSource(path string) string {
	if path == "" {
		return "configs/config.yaml (可选)"
	}
	return path
}
