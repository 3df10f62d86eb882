package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/config"
)

// SaramaTarget 基于 sarama SyncProducer 发送批次。
type SaramaTarget struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// NewSaramaTarget 根据配置创建 sarama 同步生产者。
func NewSaramaTarget(cfg config.DispatchConfig, logger *zap.Logger) (*SaramaTarget, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("dispatch: brokers 不能为空")
	}
	conf, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("dispatch: 创建 sarama 生产者失败: %w", err)
	}
	return newSaramaTarget(producer, logger), nil
}

func newSaramaTarget(p sarama.SyncProducer, logger *zap.Logger) *SaramaTarget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaramaTarget{producer: p, logger: logger}
}

func saramaConfig(cfg config.DispatchConfig) (*sarama.Config, error) {
	conf := sarama.NewConfig()
	if cfg.ClientID != "" {
		conf.ClientID = cfg.ClientID
	}
	if cfg.MaxMessageBytes > 0 {
		conf.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	if cfg.MaxAttempts > 1 {
		conf.Producer.Retry.Max = cfg.MaxAttempts - 1
	} else {
		conf.Producer.Retry.Max = 0
	}

	switch cfg.RequiredAcks {
	case "", "all":
		conf.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		conf.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		conf.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("dispatch: 不支持的确认级别 %q", cfg.RequiredAcks)
	}

	switch cfg.Compression {
	case "", "none":
		conf.Producer.Compression = sarama.CompressionNone
	case "gzip":
		conf.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		conf.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		conf.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		conf.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("dispatch: 不支持的压缩算法 %q", cfg.Compression)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: sarama 配置无效: %w", err)
	}
	return conf, nil
}

// Send 同步发送全部消息。sarama 不感知 context，仅在发送前检查取消。
func (s *SaramaTarget) Send(ctx context.Context, topic string, msgs []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([]*sarama.ProducerMessage, len(msgs))
	for i, m := range msgs {
		headers := make([]sarama.RecordHeader, len(m.Headers))
		for j, h := range m.Headers {
			headers[j] = sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value}
		}
		out[i] = &sarama.ProducerMessage{
			Topic:   topic,
			Key:     sarama.ByteEncoder(m.Key),
			Value:   sarama.ByteEncoder(m.Value),
			Headers: headers,
		}
	}
	if err := s.producer.SendMessages(out); err != nil {
		return fmt.Errorf("dispatch: sarama 发送失败: %w", err)
	}
	s.logger.Debug("sarama 批次已确认", zap.String("topic", topic), zap.Int("messages", len(out)))
	return nil
}

// Close 关闭生产者。
func (s *SaramaTarget) Close() error {
	return s.producer.Close()
}
