package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Profile 区分引擎的下单类型。
type Profile string

const (
	ProfileLimit  Profile = "limit"
	ProfileMarket Profile = "market"
)

// Driver 选择消息中间件客户端实现。
type Driver string

const (
	DriverKafkaGo Driver = "kafka-go"
	DriverSarama  Driver = "sarama"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Book       BookConfig       `mapstructure:"book"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Identifier IdentifierConfig `mapstructure:"identifier"`
	Shard      ShardConfig      `mapstructure:"shard"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// EngineConfig 控制缓冲、批量与背压。
type EngineConfig struct {
	Profile       Profile       `mapstructure:"profile"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxQueueSize  int           `mapstructure:"max_queue_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RequireUser   bool          `mapstructure:"require_user"`
	AssignIDs     bool          `mapstructure:"assign_ids"`
	Topic         string        `mapstructure:"topic"`
}

// BookConfig 控制订单簿容量。
type BookConfig struct {
	MaxOrdersPerSide int `mapstructure:"max_orders_per_side"`
}

// BreakerConfig 控制熔断器。
type BreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// DispatchConfig 描述下游消息中间件连接。
type DispatchConfig struct {
	Driver       Driver        `mapstructure:"driver"`
	Brokers      []string      `mapstructure:"brokers"`
	ClientID     string        `mapstructure:"client_id"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	Compression  string        `mapstructure:"compression"`
	Encoding     string        `mapstructure:"encoding"`
	RequiredAcks string        `mapstructure:"required_acks"`
	MaxAttempts  int           `mapstructure:"max_attempts"`

	// MaxMessageBytes 限制单条批次消息的大小，需不大于 broker 的 message.max.bytes。
	MaxMessageBytes int `mapstructure:"max_message_bytes"`
}

// IdentifierConfig 描述 snowflake 生成器的部署参数。
// 每个并行运行的实例必须拥有不同的 (datacenter_id, worker_id)；
// 分片引擎使用 worker_id + 分片序号。
type IdentifierConfig struct {
	DatacenterID int64 `mapstructure:"datacenter_id"`
	WorkerID     int64 `mapstructure:"worker_id"`
	EpochMillis  int64 `mapstructure:"epoch_ms"`
}

// ShardConfig 控制市场分片。
type ShardConfig struct {
	Count int   `mapstructure:"count"`
	Owned []int `mapstructure:"owned"`
}

// ServerConfig 控制 HTTP 接入层。
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig 控制指标暴露。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// OwnedShards 返回本进程负责的分片，未配置时为全部分片。
func (c ShardConfig) OwnedShards() []int {
	if len(c.Owned) > 0 {
		return c.Owned
	}
	if c.Count <= 0 {
		return nil
	}
	all := make([]int, c.Count)
	for i := range all {
		all[i] = i
	}
	return all
}

const maxNodeID = 31

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Engine.Profile != ProfileLimit && c.Engine.Profile != ProfileMarket {
		err = multierr.Append(err, fmt.Errorf("engine.profile 不支持 %q", c.Engine.Profile))
	}
	if c.Engine.BatchSize <= 0 {
		err = multierr.Append(err, errors.New("engine.batch_size 必须大于0"))
	}
	if c.Engine.MaxQueueSize <= 0 {
		err = multierr.Append(err, errors.New("engine.max_queue_size 必须大于0"))
	}
	if c.Engine.BatchSize > c.Engine.MaxQueueSize {
		err = multierr.Append(err, errors.New("engine.batch_size 不能大于 max_queue_size"))
	}
	if c.Engine.FlushInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.flush_interval 必须大于0"))
	}
	if c.Engine.Topic == "" {
		err = multierr.Append(err, errors.New("engine.topic 不能为空"))
	}
	if c.Book.MaxOrdersPerSide <= 0 {
		err = multierr.Append(err, errors.New("book.max_orders_per_side 必须大于0"))
	}
	if c.Breaker.MaxFailures <= 0 {
		err = multierr.Append(err, errors.New("breaker.max_failures 必须大于0"))
	}
	if c.Breaker.ResetTimeout <= 0 {
		err = multierr.Append(err, errors.New("breaker.reset_timeout 必须大于0"))
	}
	if c.Dispatch.Driver != DriverKafkaGo && c.Dispatch.Driver != DriverSarama {
		err = multierr.Append(err, fmt.Errorf("dispatch.driver 不支持 %q", c.Dispatch.Driver))
	}
	if len(c.Dispatch.Brokers) == 0 {
		err = multierr.Append(err, errors.New("dispatch.brokers 至少包含一个地址"))
	}
	if c.Dispatch.SendTimeout <= 0 {
		err = multierr.Append(err, errors.New("dispatch.send_timeout 必须大于0"))
	}
	switch c.Dispatch.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		err = multierr.Append(err, fmt.Errorf("dispatch.compression 不支持 %q", c.Dispatch.Compression))
	}
	switch c.Dispatch.Encoding {
	case "msgpack", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("dispatch.encoding 不支持 %q", c.Dispatch.Encoding))
	}
	switch c.Dispatch.RequiredAcks {
	case "all", "leader", "none":
	default:
		err = multierr.Append(err, fmt.Errorf("dispatch.required_acks 不支持 %q", c.Dispatch.RequiredAcks))
	}
	if c.Dispatch.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("dispatch.max_attempts 必须大于0"))
	}
	if c.Dispatch.MaxMessageBytes <= 0 {
		err = multierr.Append(err, errors.New("dispatch.max_message_bytes 必须大于0"))
	}
	if c.Identifier.DatacenterID < 0 || c.Identifier.DatacenterID > maxNodeID {
		err = multierr.Append(err, fmt.Errorf("identifier.datacenter_id 必须位于[0,%d]", maxNodeID))
	}
	if c.Identifier.WorkerID < 0 || c.Identifier.WorkerID > maxNodeID {
		err = multierr.Append(err, fmt.Errorf("identifier.worker_id 必须位于[0,%d]", maxNodeID))
	}
	if c.Identifier.EpochMillis <= 0 {
		err = multierr.Append(err, errors.New("identifier.epoch_ms 必须大于0"))
	}
	if c.Shard.Count <= 0 {
		err = multierr.Append(err, errors.New("shard.count 必须大于0"))
	}
	for _, idx := range c.Shard.Owned {
		if idx < 0 || idx >= c.Shard.Count {
			err = multierr.Append(err, fmt.Errorf("shard.owned 包含越界分片 %d", idx))
		}
	}
	for _, idx := range c.Shard.OwnedShards() {
		if c.Identifier.WorkerID+int64(idx) > maxNodeID {
			err = multierr.Append(err, fmt.Errorf("identifier.worker_id 加上分片 %d 超出 worker 位宽", idx))
			break
		}
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		err = multierr.Append(err, errors.New("metrics.path 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
