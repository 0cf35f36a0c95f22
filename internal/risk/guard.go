package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arena-trader/internal/config"
	"arena-trader/internal/store"
)

// Rejection 表示策略被风控拒绝，Rule 标识命中的规则。
type Rejection struct {
	Rule   string
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

// ledger 为风控所需的台账读写能力。
type ledger interface {
	DailyRealizedPnL(ctx context.Context, agent string, day time.Time) (float64, error)
	UpdateStrategyStatus(ctx context.Context, agent, symbol string, status store.StrategyStatus) error
}

// Guard 在任何订单发出前对策略做纯校验。
// 规则按序评估，命中第一条即拒绝。
type Guard struct {
	cfg    config.RiskConfig
	ledger ledger
	logger *zap.Logger
	clock  func() time.Time
}

// NewGuard 创建风控守卫。
func NewGuard(cfg config.RiskConfig, ledger ledger, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		cfg:    cfg,
		ledger: ledger,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Validate 校验策略。返回 nil 表示通过且无任何副作用；
// 返回 *Rejection 表示拒绝，同时将已存在的策略配置标记为 tripped，
// 留下风控介入的持久记录。
func (g *Guard) Validate(ctx context.Context, agent, symbol string, strategy store.StrategyConfig) error {
	if rejection := g.evaluate(ctx, agent, strategy); rejection != nil {
		g.logger.Warn("策略被风控拒绝",
			zap.String("agent", agent),
			zap.String("symbol", symbol),
			zap.String("rule", rejection.Rule),
			zap.String("reason", rejection.Reason),
		)

		if err := g.ledger.UpdateStrategyStatus(ctx, agent, symbol, store.StrategyTripped); err != nil && !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("标记策略 tripped 失败", zap.String("agent", agent), zap.Error(err))
		}

		return rejection
	}

	return nil
}

func (g *Guard) evaluate(ctx context.Context, agent string, strategy store.StrategyConfig) *Rejection {
	if strategy.Leverage > g.cfg.MaxLeverage {
		return &Rejection{
			Rule:   "leverage",
			Reason: fmt.Sprintf("leverage %d 超过上限 %d", strategy.Leverage, g.cfg.MaxLeverage),
		}
	}

	exposure := strategy.BaseAllocation * float64(strategy.Leverage)
	if exposure > g.cfg.MaxSymbolExposure {
		return &Rejection{
			Rule:   "exposure",
			Reason: fmt.Sprintf("exposure %.2f 超过上限 %.2f", exposure, g.cfg.MaxSymbolExposure),
		}
	}

	// 当日没有任何订单时视为通过，无数据不构成违规。
	dailyPnL, err := g.ledger.DailyRealizedPnL(ctx, agent, g.clock())
	if err != nil {
		return &Rejection{
			Rule:   "daily_loss",
			Reason: fmt.Sprintf("无法统计当日已实现盈亏: %v", err),
		}
	}
	if dailyPnL < g.cfg.MaxDailyLoss {
		return &Rejection{
			Rule:   "daily_loss",
			Reason: fmt.Sprintf("daily loss %.2f 超过限额 %.2f", dailyPnL, g.cfg.MaxDailyLoss),
		}
	}

	return nil
}
