package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "orderengine"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 未指定路径且默认文件不存在时，仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		switch {
		case missing && explicit:
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		case missing:
			// 默认路径缺失时退回默认值
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回只包含默认值的配置，主要用于测试。
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		panic(fmt.Sprintf("config: 默认配置无法解析: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("engine.profile", string(ProfileLimit))
	v.SetDefault("engine.batch_size", 150)
	v.SetDefault("engine.max_queue_size", 25000)
	v.SetDefault("engine.flush_interval", "550ms")
	v.SetDefault("engine.require_user", false)
	v.SetDefault("engine.assign_ids", true)
	v.SetDefault("engine.topic", "order_topic")

	v.SetDefault("book.max_orders_per_side", 10000)

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.reset_timeout", "30s")

	v.SetDefault("dispatch.driver", string(DriverKafkaGo))
	v.SetDefault("dispatch.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("dispatch.client_id", "orderbook-producer")
	v.SetDefault("dispatch.send_timeout", "30s")
	v.SetDefault("dispatch.compression", "gzip")
	v.SetDefault("dispatch.encoding", "msgpack")
	v.SetDefault("dispatch.required_acks", "all")
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.max_message_bytes", 8<<20)

	v.SetDefault("identifier.datacenter_id", 1)
	v.SetDefault("identifier.worker_id", 1)
	v.SetDefault("identifier.epoch_ms", int64(1700000000000))

	v.SetDefault("shard.count", 5)
	v.SetDefault("shard.owned", []int{})

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("database.path", "data/orderengine.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
