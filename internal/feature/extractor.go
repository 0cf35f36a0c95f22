package feature

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arena-trader/internal/market"
)

const (
	minCandles1H = 60
	minCandles4H = 30
)

// TrendFeatures 描述趋势相关指标。
type TrendFeatures struct {
	EMA12                float64 `json:"ema12"`
	EMA26                float64 `json:"ema26"`
	EMA50                float64 `json:"ema50"`
	EMARank              string  `json:"ema_rank"`
	PriceAboveEMA26      bool    `json:"price_above_ema26"`
	MACDValue            float64 `json:"macd_value"`
	MACDSignal           float64 `json:"macd_signal"`
	MACDHistogram        float64 `json:"macd_histogram"`
	MACDHistogramChange  float64 `json:"macd_histogram_change"`
	HigherTimeframeTrend string  `json:"higher_timeframe_trend"`
}

// MomentumFeatures 描述动量相关指标。
type MomentumFeatures struct {
	RSIValue        float64 `json:"rsi_value"`
	RSIState        string  `json:"rsi_state"`
	VolumeRatio     float64 `json:"volume_ratio"`
	VolumeAverage20 float64 `json:"volume_average_20"`
}

// VolatilityFeatures 描述波动率状况。
type VolatilityFeatures struct {
	ATRAbsolute float64 `json:"atr_absolute"`
	ATRRelative float64 `json:"atr_relative"`
	ATRChange   float64 `json:"atr_change"`
}

// MarketStateFeatures 描述整体市场状态。
type MarketStateFeatures struct {
	ADXValue      float64 `json:"adx_value"`
	TrendStrength string  `json:"trend_strength"`
	LastPrice     float64 `json:"last_price"`
	PriceChange1H float64 `json:"price_change_1h"`
}

// Snapshot 汇总全部特征，用于后续提示词拼装。
type Snapshot struct {
	Symbol      string              `json:"symbol"`
	GeneratedAt time.Time           `json:"generated_at"`
	Trend       TrendFeatures       `json:"trend"`
	Momentum    MomentumFeatures    `json:"momentum"`
	Volatility  VolatilityFeatures  `json:"volatility"`
	MarketState MarketStateFeatures `json:"market_state"`
}

// Extractor 根据市场快照提取特征。
type Extractor struct {
	indicators *Calculator
	logger     *zap.Logger
}

// NewExtractor 创建特征提取器。
func NewExtractor(calc *Calculator, logger *zap.Logger) *Extractor {
	if calc == nil {
		calc = NewCalculator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		indicators: calc,
		logger:     logger,
	}
}

// Extract 计算特征。
func (e *Extractor) Extract(ctx context.Context, snapshot market.Snapshot) (Snapshot, error) {
	if len(snapshot.Candles1H) < minCandles1H {
		return Snapshot{}, fmt.Errorf("1小时K线数量不足，至少需要 %d 根，当前 %d", minCandles1H, len(snapshot.Candles1H))
	}
	if len(snapshot.Candles4H) < minCandles4H {
		return Snapshot{}, fmt.Errorf("4小时K线数量不足，至少需要 %d 根，当前 %d", minCandles4H, len(snapshot.Candles4H))
	}

	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	default:
	}

	result1H, err := e.indicators.Compute(market.Timeframe1h, snapshot.Candles1H)
	if err != nil {
		return Snapshot{}, fmt.Errorf("计算1小时指标失败: %w", err)
	}

	result4H, err := e.indicators.Compute(market.Timeframe4h, snapshot.Candles4H)
	if err != nil {
		return Snapshot{}, fmt.Errorf("计算4小时指标失败: %w", err)
	}

	features := Snapshot{
		Symbol:      snapshot.Symbol,
		GeneratedAt: time.Now().UTC(),
		Trend:       buildTrend(result1H, result4H),
		Momentum:    buildMomentum(result1H),
		Volatility:  buildVolatility(result1H),
		MarketState: buildMarketState(result1H),
	}

	e.logger.Debug("特征提取完成",
		zap.String("symbol", features.Symbol),
		zap.Float64("rsi", features.Momentum.RSIValue),
		zap.String("trend_strength", features.MarketState.TrendStrength),
	)

	return features, nil
}

func buildTrend(r1h, r4h IndicatorResult) TrendFeatures {
	return TrendFeatures{
		EMA12:                sanitize(r1h.EMA12),
		EMA26:                sanitize(r1h.EMA26),
		EMA50:                sanitize(r1h.EMA50),
		EMARank:              classifyEMARank(r1h.EMA12, r1h.EMA26, r1h.EMA50),
		PriceAboveEMA26:      r1h.Close > r1h.EMA26,
		MACDValue:            sanitize(r1h.MACD.Value),
		MACDSignal:           sanitize(r1h.MACD.Signal),
		MACDHistogram:        sanitize(r1h.MACD.Histogram),
		MACDHistogramChange:  sanitize(r1h.MACD.Histogram - r1h.MACD.PrevHistogram),
		HigherTimeframeTrend: classifyEMARank(r4h.EMA12, r4h.EMA26, r4h.EMA50),
	}
}

func buildMomentum(r IndicatorResult) MomentumFeatures {
	return MomentumFeatures{
		RSIValue:        sanitize(r.RSI),
		RSIState:        classifyRSI(r.RSI),
		VolumeRatio:     sanitize(r.Volume.Ratio),
		VolumeAverage20: sanitize(r.Volume.Average20),
	}
}

func buildVolatility(r IndicatorResult) VolatilityFeatures {
	return VolatilityFeatures{
		ATRAbsolute: sanitize(r.ATR.Absolute),
		ATRRelative: sanitize(r.ATR.Relative),
		ATRChange:   sanitize(r.ATR.Absolute - r.ATR.PrevAbsolute),
	}
}

func buildMarketState(r IndicatorResult) MarketStateFeatures {
	change := 0.0
	if r.PreviousClose > 0 {
		change = (r.Close - r.PreviousClose) / r.PreviousClose
	}
	return MarketStateFeatures{
		ADXValue:      sanitize(r.ADX),
		TrendStrength: classifyADX(r.ADX),
		LastPrice:     sanitize(r.Close),
		PriceChange1H: sanitize(change),
	}
}

func classifyEMARank(ema12, ema26, ema50 float64) string {
	switch {
	case ema12 > ema26 && ema26 > ema50:
		return "bullish"
	case ema12 < ema26 && ema26 < ema50:
		return "bearish"
	default:
		return "mixed"
	}
}

func classifyRSI(rsi float64) string {
	switch {
	case rsi >= 70:
		return "overbought"
	case rsi <= 30:
		return "oversold"
	default:
		return "neutral"
	}
}

func classifyADX(adx float64) string {
	switch {
	case adx >= 40:
		return "strong"
	case adx >= 25:
		return "moderate"
	default:
		return "weak"
	}
}
