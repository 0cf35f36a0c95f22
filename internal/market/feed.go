package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arena-trader/internal/store"
)

type priceSink interface {
	InsertPrice(ctx context.Context, point store.PricePoint) error
}

// Feed 聚合行情快照并把最新价写入本地价格台账，
// 执行核心的市价来源即这里落库的 price_history。
type Feed struct {
	client *Client
	sink   priceSink
	logger *zap.Logger
}

// NewFeed 创建行情服务。
func NewFeed(client *Client, sink priceSink, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		client: client,
		sink:   sink,
		logger: logger,
	}
}

// NativeSymbol 把 ccxt 统一交易对转换为交易所原生符号，
// 例如 "SOL/USDT:USDT" -> "SOLUSDT"。
func NativeSymbol(unified string) string {
	base := unified
	if idx := strings.Index(base, ":"); idx >= 0 {
		base = base[:idx]
	}
	return strings.ReplaceAll(base, "/", "")
}

// GetSnapshot 并发拉取 1 小时与 4 小时K线。
func (f *Feed) GetSnapshot(ctx context.Context, limit int) (Snapshot, error) {
	if limit <= 0 {
		limit = 200
	}

	var (
		candles1H []Candle
		candles4H []Candle
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := f.client.FetchCandles(groupCtx, Timeframe1h, int64(limit))
		if err != nil {
			return err
		}
		candles1H = data
		return nil
	})

	group.Go(func() error {
		data, err := f.client.FetchCandles(groupCtx, Timeframe4h, int64(limit))
		if err != nil {
			return err
		}
		candles4H = data
		return nil
	})

	if err := group.Wait(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Symbol:      f.client.Symbol(),
		Candles1H:   candles1H,
		Candles4H:   candles4H,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// RefreshPrice 拉取最新价并写入价格台账。
func (f *Feed) RefreshPrice(ctx context.Context) error {
	ticker, err := f.client.FetchTicker(ctx)
	if err != nil {
		return fmt.Errorf("market: 拉取最新价失败: %w", err)
	}
	if ticker.Last <= 0 {
		return fmt.Errorf("market: %s 最新价无效", f.client.Symbol())
	}

	point := store.PricePoint{
		Symbol:    NativeSymbol(ticker.Symbol),
		Price:     ticker.Last,
		Volume:    ticker.Volume,
		Timestamp: ticker.Timestamp,
	}
	if err := f.sink.InsertPrice(ctx, point); err != nil {
		return err
	}

	f.logger.Debug("最新价已更新",
		zap.String("symbol", point.Symbol),
		zap.Float64("price", point.Price),
	)

	return nil
}
