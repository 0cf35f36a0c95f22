package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"arena-trader/internal/exchange"
	"arena-trader/internal/store"
)

// ErrInvalidConfiguration 表示网格参数无法构成合法的价格阶梯。
var ErrInvalidConfiguration = errors.New("grid: invalid configuration")

// idempotencyKeyLength 为幂等键截断长度（十六进制字符数）。
const idempotencyKeyLength = 16

// Level 为规划出的单个档位，尚未落库。
type Level struct {
	Index          int
	Price          float64
	Side           exchange.Side
	Quantity       float64
	IdempotencyKey string
}

// PlanPrices 计算网格价格序列，输出严格递增并覆盖 [lower, upper] 两端。
// levelCount 必须 ≥ 2，否则步长/比例公式除零。纯函数，无 I/O。
func PlanPrices(lower, upper float64, levelCount int, spacing store.SpacingKind) ([]float64, error) {
	if levelCount < 2 {
		return nil, fmt.Errorf("%w: level_count 必须 ≥ 2，当前为 %d", ErrInvalidConfiguration, levelCount)
	}
	if lower <= 0 || upper <= lower {
		return nil, fmt.Errorf("%w: 价格区间 [%v, %v] 非法", ErrInvalidConfiguration, lower, upper)
	}

	prices := make([]float64, levelCount)

	switch spacing {
	case store.SpacingArithmetic:
		step := (upper - lower) / float64(levelCount-1)
		for i := 0; i < levelCount; i++ {
			prices[i] = lower + float64(i)*step
		}
	case store.SpacingGeometric:
		ratio := math.Pow(upper/lower, 1/float64(levelCount-1))
		for i := 0; i < levelCount; i++ {
			prices[i] = lower * math.Pow(ratio, float64(i))
		}
	default:
		return nil, fmt.Errorf("%w: 未知间距类型 %q", ErrInvalidConfiguration, spacing)
	}

	// 浮点累计误差可能让末位略偏离上界，端点取精确值。
	prices[levelCount-1] = upper

	return prices, nil
}

// QuantityPerLevel 计算单档数量：(base_allocation / level_count) * leverage / price，
// 按交易对精度取整。
func QuantityPerLevel(baseAllocation float64, levelCount, leverage int, price float64, precision int) float64 {
	notional := baseAllocation / float64(levelCount)
	qty := notional * float64(leverage) / price
	return roundTo(qty, precision)
}

func roundTo(value float64, precision int) float64 {
	factor := math.Pow10(precision)
	return math.Round(value*factor) / factor
}

// IdempotencyKey 从 (agent, symbol, config_id, level_index) 确定性派生幂等键。
// 不含任何随机性与时钟输入，跨进程重启稳定。
func IdempotencyKey(agent, symbol string, configID int64, levelIndex int) string {
	data := fmt.Sprintf("%s:%s:%d:%d", agent, symbol, configID, levelIndex)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:idempotencyKeyLength]
}

// Plan 规划整张网格：价格、方向（中点及以下为买、其上为卖）、单档数量与幂等键。
func Plan(cfg store.StrategyConfig, qtyPrecision int) ([]Level, error) {
	prices, err := PlanPrices(cfg.PriceLower, cfg.PriceUpper, cfg.LevelCount, cfg.Spacing)
	if err != nil {
		return nil, err
	}

	midpoint := (cfg.PriceLower + cfg.PriceUpper) / 2

	levels := make([]Level, 0, len(prices))
	for i, price := range prices {
		side := exchange.SideBuy
		if price > midpoint {
			side = exchange.SideSell
		}
		levels = append(levels, Level{
			Index:          i,
			Price:          price,
			Side:           side,
			Quantity:       QuantityPerLevel(cfg.BaseAllocation, cfg.LevelCount, cfg.Leverage, price, qtyPrecision),
			IdempotencyKey: IdempotencyKey(cfg.Agent, cfg.Symbol, cfg.ID, i),
		})
	}

	return levels, nil
}
