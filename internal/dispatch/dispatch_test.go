package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/config"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/order"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type blockingTarget struct {
	cancelled chan struct{}
}

func (b *blockingTarget) Send(ctx context.Context, _ string, _ []Message) error {
	<-ctx.Done()
	close(b.cancelled)
	return ctx.Err()
}

func (b *blockingTarget) Close() error { return nil }

type instantTarget struct{ err error }

func (i instantTarget) Send(context.Context, string, []Message) error { return i.err }
func (i instantTarget) Close() error { return nil }

func sampleBatch() []order.Order {
	return []order.Order{
		{
			OrderID: "BTC-USDT_1",
			Market:  "BTC-USDT",
			Side:    order.SideBuy,
			Kind:    order.KindLimit,
			Price:   decimal.RequireFromString("100.10"),
			Amount:  decimal.RequireFromString("1.5"),
			IsMaker: true,
			UserID:  "u-1",
		},
		{
			Market: "ETH-USDT",
			Side:   order.SideSell,
			Kind:   order.KindMarket,
			Price:  decimal.RequireFromString("3000"),
			Amount: decimal.RequireFromString("0.01"),
		},
	}
}

func TestCodecsPreserveBatch(t *testing.T) {
	for _, name := range []string{"msgpack", "json"} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			batch := sampleBatch()
			data, err := c.Encode(batch)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)
			require.Len(t, got, len(batch))
			for i := range batch {
				assert.Equal(t, batch[i].OrderID, got[i].OrderID)
				assert.Equal(t, batch[i].Market, got[i].Market)
				assert.Equal(t, batch[i].Side, got[i].Side)
				assert.Equal(t, batch[i].Kind, got[i].Kind)
				assert.True(t, batch[i].Price.Equal(got[i].Price))
				assert.True(t, batch[i].Amount.Equal(got[i].Amount))
				assert.Equal(t, batch[i].IsMaker, got[i].IsMaker)
				assert.Equal(t, batch[i].UserID, got[i].UserID)
			}
		})
	}
}

func TestNewCodecRejectsUnknown(t *testing.T) {
	_, err := NewCodec("avro")
	assert.Error(t, err)

	c, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())
}

func TestWithTimeoutReturnsDispatchTimeout(t *testing.T) {
	inner := &blockingTarget{cancelled: make(chan struct{})}
	target := WithTimeout(inner, 20*time.Millisecond)

	err := target.Send(context.Background(), "order_topic", nil)
	assert.ErrorIs(t, err, ErrDispatchTimeout)

	select {
	case <-inner.cancelled:
	case <-time.After(time.Second):
		t.Fatal("inner send was not cancelled after timeout")
	}
}

func TestWithTimeoutPassesThroughResult(t *testing.T) {
	boom := errors.New("boom")
	assert.NoError(t, WithTimeout(instantTarget{}, time.Second).Send(context.Background(), "t", nil))
	assert.ErrorIs(t, WithTimeout(instantTarget{err: boom}, time.Second).Send(context.Background(), "t", nil), boom)

	// 非正超时直接返回原目标
	raw := instantTarget{}
	assert.Equal(t, Target(raw), WithTimeout(raw, 0))
}

func TestKafkaTargetSetsTopicAndHeaders(t *testing.T) {
	w := &recordingWriter{}
	target := newKafkaTarget(w, nil)

	err := target.Send(context.Background(), "order_topic", []Message{{
		Key:     []byte("batch-1"),
		Value:   []byte("payload"),
		Headers: []Header{{Key: "count", Value: []byte("2")}},
	}})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order_topic", w.msgs[0].Topic)
	assert.Equal(t, []byte("batch-1"), w.msgs[0].Key)
	assert.Equal(t, []byte("payload"), w.msgs[0].Value)
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "count", w.msgs[0].Headers[0].Key)

	require.NoError(t, target.Close())
	assert.True(t, w.closed)
}

func TestKafkaTargetWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	target := newKafkaTarget(&recordingWriter{err: boom}, nil)
	err := target.Send(context.Background(), "order_topic", []Message{{Value: []byte("x")}})
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaTargetValidatesConfig(t *testing.T) {
	cfg := config.Default().Dispatch
	target, err := NewKafkaTarget(cfg, nil)
	require.NoError(t, err)
	w, ok := target.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, int64(cfg.MaxMessageBytes), w.BatchBytes)
	require.NoError(t, target.Close())

	bad := cfg
	bad.Compression = "brotli"
	_, err = NewKafkaTarget(bad, nil)
	assert.Error(t, err)

	bad = cfg
	bad.Brokers = nil
	_, err = NewKafkaTarget(bad, nil)
	assert.Error(t, err)
}

func TestSaramaTargetSendsBatch(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "order_topic" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "encoding" {
			return errors.New("missing encoding header")
		}
		return nil
	})

	target := newSaramaTarget(producer, nil)
	err := target.Send(context.Background(), "order_topic", []Message{{
		Key:     []byte("batch-1"),
		Value:   []byte("payload"),
		Headers: []Header{{Key: "encoding", Value: []byte("msgpack")}},
	}})
	require.NoError(t, err)
	require.NoError(t, target.Close())
}

func TestSaramaTargetPropagatesFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	target := newSaramaTarget(producer, nil)
	err := target.Send(context.Background(), "order_topic", []Message{{Value: []byte("x")}})
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	require.NoError(t, target.Close())
}

func TestSaramaTargetHonoursCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	target := newSaramaTarget(producer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := target.Send(ctx, "order_topic", []Message{{Value: []byte("x")}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, target.Close())
}

func TestSaramaConfigMapping(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.RequiredAcks = "leader"
	cfg.Compression = "zstd"
	cfg.MaxAttempts = 4
	cfg.MaxMessageBytes = 4 << 20

	conf, err := saramaConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, sarama.WaitForLocal, conf.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, conf.Producer.Compression)
	assert.Equal(t, 3, conf.Producer.Retry.Max)
	assert.Equal(t, 4<<20, conf.Producer.MaxMessageBytes)
	assert.True(t, conf.Producer.Return.Successes)
	assert.Equal(t, "orderbook-producer", conf.ClientID)

	cfg.RequiredAcks = "quorum"
	_, err = saramaConfig(cfg)
	assert.Error(t, err)
}
