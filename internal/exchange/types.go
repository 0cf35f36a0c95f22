package exchange

import "time"

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// 响应来源标记，用于区分真实交易所响应与模拟响应。
const (
	SourceLive = "live"
	SourceMock = "mock"
)

// OrderRequest 描述一次委托请求。ClientOrderID 为调用方提供的幂等键，
// 同一幂等键在交易所侧至多对应一笔订单。
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          string // LIMIT | MARKET
	Quantity      float64
	Price         float64
	TimeInForce   string
	ClientOrderID string
	ReduceOnly    bool
}

// Order 为交易所返回的订单状态。
type Order struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Type            string
	Price           float64
	Quantity        float64
	ExecutedQty     float64
	AvgPrice        float64
	Status          string
	UpdateTime      time.Time
	Source          string
}

// Filled 判断订单是否已完全成交。
func (o Order) Filled() bool {
	return o.Status == "FILLED"
}

// AccountInfo 为账户权益概览。
type AccountInfo struct {
	AvailableBalance      float64
	TotalPositionMargin   float64
	TotalUnrealizedProfit float64
	Source                string
}

// TotalEquity 返回账户总权益：可用余额 + 占用保证金 + 未实现盈亏。
func (a AccountInfo) TotalEquity() float64 {
	return a.AvailableBalance + a.TotalPositionMargin + a.TotalUnrealizedProfit
}

// PositionRisk 为交易所侧的权威持仓快照。PositionAmt 正为多头、负为空头。
type PositionRisk struct {
	Symbol        string
	PositionAmt   float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
	Source        string
}

// DepthLevel 表示盘口单个档位。
type DepthLevel struct {
	Price  float64
	Amount float64
}

// Depth 为订单簿深度快照。
type Depth struct {
	Symbol string
	Bids   []DepthLevel
	Asks   []DepthLevel
}

// SymbolPrecision 为交易对的数量/价格精度元数据。
type SymbolPrecision struct {
	Quantity int
	Price    int
}

// 精度查询失败时的保守缺省值。
var defaultPrecision = SymbolPrecision{Quantity: 3, Price: 2}
