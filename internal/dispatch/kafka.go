package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTarget 基于 kafka-go Writer 同步发送批次。
type KafkaTarget struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaTarget 根据配置创建 kafka-go 生产者，主题由每条消息指定。
func NewKafkaTarget(cfg config.DispatchConfig, logger *zap.Logger) (*KafkaTarget, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("dispatch: brokers 不能为空")
	}
	compression, err := kafkaCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	acks, err := kafkaAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchBytes:   int64(cfg.MaxMessageBytes),
		RequiredAcks: acks,
		Compression:  compression,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}
	return newKafkaTarget(w, logger), nil
}

func newKafkaTarget(w messageWriter, logger *zap.Logger) *KafkaTarget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaTarget{writer: w, logger: logger}
}

// Send 写入消息并等待确认。
func (k *KafkaTarget) Send(ctx context.Context, topic string, msgs []Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		headers := make([]kafka.Header, len(m.Headers))
		for j, h := range m.Headers {
			headers[j] = kafka.Header{Key: h.Key, Value: h.Value}
		}
		out[i] = kafka.Message{
			Topic:   topic,
			Key:     m.Key,
			Value:   m.Value,
			Headers: headers,
		}
	}
	if err := k.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("dispatch: kafka 写入失败: %w", err)
	}
	k.logger.Debug("kafka 批次已确认", zap.String("topic", topic), zap.Int("messages", len(out)))
	return nil
}

// Close 关闭 Writer。
func (k *KafkaTarget) Close() error {
	return k.writer.Close()
}

func kafkaCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("dispatch: 不支持的压缩算法 %q", name)
	}
}

func kafkaAcks(name string) (kafka.RequiredAcks, error) {
	switch name {
	case "", "all":
		return kafka.RequireAll, nil
	case "leader":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	default:
		return 0, fmt.Errorf("dispatch: 不支持的确认级别 %q", name)
	}
}
