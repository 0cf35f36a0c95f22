package execution

import (
	"context"
	"time"

	"arena-trader/internal/exchange"
	"arena-trader/internal/store"
)

// 操作结果状态。skipped 表示资金不足等正常跳过，不是错误。
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusSkipped  = "skipped"
	StatusRejected = "rejected"
)

// Gateway 为执行核心依赖的交易网关能力。
type Gateway interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (exchange.Order, error)
	QueryOrderByClientID(ctx context.Context, symbol, clientOrderID string) (exchange.Order, error)
	GetAccount(ctx context.Context) (exchange.AccountInfo, error)
	GetPositions(ctx context.Context, symbol string) ([]exchange.PositionRisk, error)
	ChangeLeverage(ctx context.Context, symbol string, leverage int) error
	SymbolPrecision(ctx context.Context, symbol string) exchange.SymbolPrecision
}

// GatewayResolver 按代理名解析对应凭证的网关。
type GatewayResolver func(agent string) Gateway

// Ledger 为执行核心依赖的本地台账能力。
type Ledger interface {
	UpsertStrategyConfig(ctx context.Context, cfg store.StrategyConfig) (int64, error)
	GetStrategyConfig(ctx context.Context, agent, symbol string) (store.StrategyConfig, error)
	GetStrategyConfigByID(ctx context.Context, configID int64) (store.StrategyConfig, error)
	UpdateStrategyStatus(ctx context.Context, agent, symbol string, status store.StrategyStatus) error
	InsertGridLevelIfAbsent(ctx context.Context, level store.GridLevel) error
	UpdateGridLevelState(ctx context.Context, idempotencyKey string, state store.LevelState, lastError string) error
	GetGridLevels(ctx context.Context, configID int64) ([]store.GridLevel, error)
	UpsertOrder(ctx context.Context, order store.Order) error
	GetOrderByKey(ctx context.Context, idempotencyKey string) (store.Order, error)
	UpsertPosition(ctx context.Context, pos store.Position) error
	GetPosition(ctx context.Context, agent, symbol string) (store.Position, error)
	RemovePosition(ctx context.Context, agent, symbol string) error
	GetLatestPrice(ctx context.Context, symbol string) (store.PricePoint, error)
	RecordTradeResult(ctx context.Context, agent string, pnl, drawdown float64) error
	MarkDecisionExecuted(ctx context.Context, id int64) error
}

// ApplyResult 为 grid 策略应用的结果。
type ApplyResult struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	ConfigID    int64  `json:"config_id,omitempty"`
	Placed      int    `json:"placed"`
	Errors      int    `json:"errors"`
	TotalLevels int    `json:"total_levels"`
}

// SyncResult 为一次对账扫描的结果。
type SyncResult struct {
	Status   string `json:"status"`
	ConfigID int64  `json:"config_id"`
	Synced   int    `json:"synced"`
	Filled   int    `json:"filled"`
	Errors   int    `json:"errors"`
}

// ExecResult 为单笔决策执行的结果。
type ExecResult struct {
	Status   string  `json:"status"`
	Action   string  `json:"action"`
	Reason   string  `json:"reason,omitempty"`
	OrderID  string  `json:"order_id,omitempty"`
	SizeUSD  float64 `json:"size_usd,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func orderRecord(agent string, ord exchange.Order, key string) store.Order {
	price := ord.Price
	if ord.AvgPrice > 0 {
		price = ord.AvgPrice
	}
	return store.Order{
		Agent:           agent,
		Symbol:          ord.Symbol,
		IdempotencyKey:  key,
		ExchangeOrderID: ord.ExchangeOrderID,
		Side:            string(ord.Side),
		Price:           price,
		Quantity:        ord.Quantity,
		FilledQuantity:  ord.ExecutedQty,
		Status:          ord.Status,
		CreatedAt:       time.Now().UTC(),
	}
}
