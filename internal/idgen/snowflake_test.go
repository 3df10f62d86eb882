package idgen

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock 每次读取后推进 step。
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestNextIDStrictlyIncreasing(t *testing.T) {
	g, err := New(1, 1)
	require.NoError(t, err)

	seen := make(map[int64]struct{}, 10000)
	prev := int64(-1)
	for i := 0; i < 10000; i++ {
		id := g.NextID()
		require.Greater(t, id, prev, "iteration %d", i)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
		prev = id
	}
}

func TestSequenceWraparoundWaitsForNextMillisecond(t *testing.T) {
	base := time.UnixMilli(DefaultEpochMillis + 5000)
	// 每毫秒可读取 5000 次，保证单毫秒内序号溢出
	clock := &stepClock{now: base, step: time.Millisecond / 5000}
	g, err := New(2, 3, WithClock(clock.Now))
	require.NoError(t, err)

	prev := int64(-1)
	wrapped := false
	for i := 0; i < 5000; i++ {
		id := g.NextID()
		require.Greater(t, id, prev)
		p := g.Decompose(id)
		if i > 0 && p.Sequence == 0 {
			wrapped = true
		}
		prev = id
	}
	assert.True(t, wrapped)
}

func TestClockRegressionKeepsMonotonicity(t *testing.T) {
	now := time.UnixMilli(DefaultEpochMillis + 10_000)
	g, err := New(0, 0, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	first := g.NextID()
	now = now.Add(-2 * time.Second)
	second := g.NextID()
	assert.Greater(t, second, first)
	assert.Equal(t, g.Decompose(first).TimestampMillis, g.Decompose(second).TimestampMillis)
}

func TestWraparoundDuringClockRegressionDoesNotWait(t *testing.T) {
	now := time.UnixMilli(DefaultEpochMillis + 10_000)
	g, err := New(0, 0, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	first := g.NextID()
	// 墙钟回拨后停住，耗尽序号不能卡住生成器
	now = now.Add(-time.Hour)

	prev := first
	for i := 0; i < int(3*(sequenceMask+1)); i++ {
		id := g.NextID()
		require.Greater(t, id, prev, "iteration %d", i)
		prev = id
	}
	assert.Equal(t, g.Decompose(first).TimestampMillis+3, g.Decompose(prev).TimestampMillis)
}

func TestDecomposeRoundTrip(t *testing.T) {
	at := time.UnixMilli(1700000123456)
	g, err := New(7, 19, WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	p := g.Decompose(g.NextID())
	assert.Equal(t, int64(1700000123456), p.TimestampMillis)
	assert.Equal(t, int64(7), p.DatacenterID)
	assert.Equal(t, int64(19), p.WorkerID)
	assert.Equal(t, int64(0), p.Sequence)

	p = g.Decompose(g.NextID())
	assert.Equal(t, int64(1), p.Sequence)
}

func TestNextFormatsMarketPrefix(t *testing.T) {
	g, err := New(1, 1, WithEpoch(DefaultEpochMillis))
	require.NoError(t, err)

	id := g.Next("BTC-USDT")
	prefix, num, ok := strings.Cut(id, "_")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", prefix)
	_, err = strconv.ParseInt(num, 10, 64)
	assert.NoError(t, err)
}

func TestNewRejectsOutOfRangeNode(t *testing.T) {
	_, err := New(32, 0)
	assert.True(t, errors.Is(err, ErrNodeID))
	_, err = New(0, -1)
	assert.True(t, errors.Is(err, ErrNodeID))
}
