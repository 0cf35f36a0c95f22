package monitor

import (
	"time"

	"arena-trader/internal/ai"
	"arena-trader/internal/execution"
	"arena-trader/internal/feature"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventAIDecision EventType = "ai_decision"
	EventExecution  EventType = "execution"
	EventGridApply  EventType = "grid_apply"
	EventGridSync   EventType = "grid_sync"
	EventRiskTrip   EventType = "risk_trip"
	EventError      EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// AIDecisionPayload 记录AI决策及其输入特征。
type AIDecisionPayload struct {
	Agent    string           `json:"agent"`
	Symbol   string           `json:"symbol"`
	Decision ai.Decision      `json:"decision"`
	Features feature.Snapshot `json:"features"`
}

// ExecutionPayload 记录单笔决策执行结果。
type ExecutionPayload struct {
	Agent  string               `json:"agent"`
	Symbol string               `json:"symbol"`
	Result execution.ExecResult `json:"result"`
}

// GridApplyPayload 记录策略应用结果。
type GridApplyPayload struct {
	Agent  string                `json:"agent"`
	Symbol string                `json:"symbol"`
	Result execution.ApplyResult `json:"result"`
}

// GridSyncPayload 记录对账扫描结果。
type GridSyncPayload struct {
	Result execution.SyncResult `json:"result"`
}

// RiskTripPayload 记录风控拒绝。
type RiskTripPayload struct {
	Agent  string `json:"agent"`
	Symbol string `json:"symbol"`
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// ErrorPayload 记录异常上下文。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
