package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arena-trader/internal/ai"
	"arena-trader/internal/execution"
	"arena-trader/internal/feature"
	"arena-trader/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
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
		logger: logger,
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
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
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
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordDecision 记录AI决策。
func (s *Service) RecordDecision(ctx context.Context, agent, symbol string, features feature.Snapshot, decision ai.Decision) {
	if err := s.Record(ctx, Event{
		Type:    EventAIDecision,
		Payload: AIDecisionPayload{Agent: agent, Symbol: symbol, Decision: decision, Features: features},
	}); err != nil {
		s.logger.Warn("记录AI决策事件失败", zap.Error(err))
	}
}

// RecordExecution 记录决策执行。
func (s *Service) RecordExecution(ctx context.Context, agent, symbol string, result execution.ExecResult) {
	if err := s.Record(ctx, Event{
		Type:    EventExecution,
		Payload: ExecutionPayload{Agent: agent, Symbol: symbol, Result: result},
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordGridApply 记录策略应用。
func (s *Service) RecordGridApply(ctx context.Context, agent, symbol string, result execution.ApplyResult) {
	if err := s.Record(ctx, Event{
		Type:    EventGridApply,
		Payload: GridApplyPayload{Agent: agent, Symbol: symbol, Result: result},
	}); err != nil {
		s.logger.Warn("记录策略应用事件失败", zap.Error(err))
	}
}

// RecordGridSync 记录对账扫描。
func (s *Service) RecordGridSync(ctx context.Context, result execution.SyncResult) {
	if err := s.Record(ctx, Event{
		Type:    EventGridSync,
		Payload: GridSyncPayload{Result: result},
	}); err != nil {
		s.logger.Warn("记录对账事件失败", zap.Error(err))
	}
}

// RecordRiskTrip 记录风控拒绝。
func (s *Service) RecordRiskTrip(ctx context.Context, agent, symbol, rule, reason string) {
	if err := s.Record(ctx, Event{
		Type:    EventRiskTrip,
		Payload: RiskTripPayload{Agent: agent, Symbol: symbol, Rule: rule, Reason: reason},
	}); err != nil {
		s.logger.Warn("记录风控事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:    EventError,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 遍历事件失败: %w", err)
	}

	return events, nil
}
