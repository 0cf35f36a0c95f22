package market

import "time"

const (
	// Timeframe1h 为主决策周期。
	Timeframe1h = "1h"
	// Timeframe4h 为趋势过滤周期。
	Timeframe4h = "4h"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Ticker 为最新成交价快照。
type Ticker struct {
	Symbol    string
	Last      float64
	Volume    float64
	Timestamp time.Time
}

// Snapshot 聚合多个时间框架的K线数据。
type Snapshot struct {
	Symbol      string
	Candles1H   []Candle
	Candles4H   []Candle
	RetrievedAt time.Time
}
