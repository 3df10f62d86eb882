package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/darksunstealth/coinza-core-infrastructure/internal/breaker"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/engine"
	"github.com/darksunstealth/coinza-core-infrastructure/internal/store"
)

// Service 把发送失败与熔断切换写入 monitor_events，供排障查询。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger.Named("monitor"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	shard TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_shard ON monitor_events(shard);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, shard, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.Shard, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordFlushFailure 记录发送失败、已被丢弃的批次。
func (s *Service) RecordFlushFailure(ctx context.Context, info engine.FlushInfo) {
	if info.Err == nil {
		return
	}
	if err := s.Record(ctx, Event{
		Type:      EventFlushFailed,
		Shard:     info.Engine,
		Timestamp: s.now(),
		Payload: FlushFailedPayload{
			Shard:      info.Engine,
			BatchID:    info.BatchID,
			Size:       info.Size,
			DurationMS: info.Duration.Milliseconds(),
			Error:      info.Err.Error(),
		},
	}); err != nil {
		s.logger.Warn("记录发送失败事件失败", zap.Error(err))
	}
}

// RecordBreakerTransition 记录熔断器状态切换。
func (s *Service) RecordBreakerTransition(ctx context.Context, shard string, from, to breaker.State) {
	if err := s.Record(ctx, Event{
		Type:      EventBreakerTransition,
		Shard:     shard,
		Timestamp: s.now(),
		Payload:   BreakerTransitionPayload{Shard: shard, From: from.String(), To: to.String()},
	}); err != nil {
		s.logger.Warn("记录熔断事件失败", zap.Error(err))
	}
}

// RecordEngineClosed 记录引擎关闭。
func (s *Service) RecordEngineClosed(ctx context.Context, shard string, closeErr error) {
	payload := EngineClosedPayload{Shard: shard}
	if closeErr != nil {
		payload.Error = closeErr.Error()
	}
	if err := s.Record(ctx, Event{
		Type:      EventEngineClosed,
		Shard:     shard,
		Timestamp: s.now(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录引擎关闭事件失败", zap.Error(err))
	}
}

// BreakerListener 返回写入监控日志的熔断状态回调。
func (s *Service) BreakerListener(shard string) breaker.StateListener {
	return func(from, to breaker.State) {
		s.RecordBreakerTransition(context.Background(), shard, from, to)
	}
}

// FlushObserver 返回只关心发送失败的引擎观察者。
func (s *Service) FlushObserver() engine.Observer {
	return flushJournal{svc: s}
}

type flushJournal struct {
	engine.NopObserver
	svc *Service
}

func (j flushJournal) FlushFinished(info engine.FlushInfo) {
	j.svc.RecordFlushFailure(context.Background(), info)
}

// Query 描述事件检索条件，空字段表示不过滤。
type Query struct {
	Type  EventType
	Shard string
	Limit int
}

// ListEvents 按条件检索最近事件，最新的在前。
func (s *Service) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := `SELECT event_type, shard, payload, created_at FROM monitor_events`
	var (
		where []string
		args  []interface{}
	)
	if q.Type != "" {
		where = append(where, `event_type = ?`)
		args = append(args, string(q.Type))
	}
	if q.Shard != "" {
		where = append(where, `shard = ?`)
		args = append(args, q.Shard)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, q.Limit)
	for rows.Next() {
		var (
			typ     string
			shard   string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &shard, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			return nil, fmt.Errorf("monitor: 解析时间失败: %w", parseErr)
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Shard:     shard,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
