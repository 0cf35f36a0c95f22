package store

import "time"

// SpacingKind 描述网格间距类型。
type SpacingKind string

const (
	SpacingArithmetic SpacingKind = "arithmetic"
	SpacingGeometric  SpacingKind = "geometric"
)

// StrategyStatus 描述网格策略状态。
type StrategyStatus string

const (
	StrategyActive  StrategyStatus = "active"
	StrategyPaused  StrategyStatus = "paused"
	StrategyTripped StrategyStatus = "tripped"
)

// LevelState 描述网格档位的生命周期状态。
// 状态单向推进，唯一例外是 error 在后续重试成功后回到 placed。
type LevelState string

const (
	LevelPlanned  LevelState = "planned"
	LevelPlaced   LevelState = "placed"
	LevelFilled   LevelState = "filled"
	LevelCanceled LevelState = "canceled"
	LevelError    LevelState = "error"
)

// StrategyConfig 为每个 (agent, symbol) 唯一的网格策略配置。
type StrategyConfig struct {
	ID             int64
	Agent          string
	Symbol         string
	PriceLower     float64
	PriceUpper     float64
	LevelCount     int
	Spacing        SpacingKind
	BaseAllocation float64
	Leverage       int
	TakeProfitPct  float64
	StopLossPct    float64
	Rebalance      bool
	Status         StrategyStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GridLevel 为策略的单个档位，幂等键与档位一一对应。
type GridLevel struct {
	ID             int64
	ConfigID       int64
	LevelIndex     int
	Price          float64
	Side           string
	Quantity       float64
	IdempotencyKey string
	State          LevelState
	LastError      string
	UpdatedAt      time.Time
}

// Order 为本地订单台账。首次插入后 price/qty/side/idempotency_key 不可变，
// 对账只更新成交与状态字段。
type Order struct {
	ID              int64
	Agent           string
	Symbol          string
	IdempotencyKey  string
	ExchangeOrderID string
	Side            string
	Price           float64
	Quantity        float64
	FilledQuantity  float64
	Status          string
	Fee             float64
	PnL             float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AgentAccount 为代理的资金台账。
type AgentAccount struct {
	Agent          string
	InitialBalance float64
	CurrentBalance float64
	TotalPnL       float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	MaxDrawdown    float64
	UpdatedAt      time.Time
}

// Position 为代理在某交易对上的持仓，(agent, symbol) 唯一，全平后删除。
type Position struct {
	Agent         string
	Symbol        string
	Side          string
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	Leverage      int
	UpdatedAt     time.Time
}

// PricePoint 为行情快照中的一条价格记录。
type PricePoint struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// DecisionRecord 为待执行/已执行的大模型决策审计记录。
type DecisionRecord struct {
	ID         int64
	Agent      string
	Symbol     string
	Action     string
	Reasoning  string
	Confidence float64
	Payload    string
	Executed   bool
	CreatedAt  time.Time
}
