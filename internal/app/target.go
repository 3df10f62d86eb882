package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/config"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/dispatch"
)

// newTarget 按 dispatch.driver 选择生产者实现。
func newTarget(cfg config.DispatchConfig, logger *zap.Logger) (dispatch.Target, error) {
	logger = logger.Named("dispatch").With(zap.String("driver", string(cfg.Driver)))
	switch cfg.Driver {
	case config.DriverKafkaGo, "":
		t, err := dispatch.NewKafkaTarget(cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.DriverSarama:
		t, err := dispatch.NewSaramaTarget(cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("app: 不支持的 dispatch driver %q", cfg.Driver)
	}
}
