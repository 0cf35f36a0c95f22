package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"arena-trader/internal/ai"
	"arena-trader/internal/config"
	"arena-trader/internal/exchange"
	"arena-trader/internal/store"
)

// 本地持仓方向。
const (
	positionLong  = "LONG"
	positionShort = "SHORT"
)

// Executor 把单笔代理决策转换为至多一笔交易所委托，
// 资金规则与网格路径相互独立。
type Executor struct {
	cfg      config.ExecutionConfig
	ledger   Ledger
	gateways GatewayResolver
	locks    *keyLock
	logger   *zap.Logger
}

// NewExecutor 创建决策执行器。
func NewExecutor(cfg config.ExecutionConfig, ledger Ledger, gateways GatewayResolver, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		ledger:   ledger,
		gateways: gateways,
		locks:    newKeyLock(),
		logger:   logger,
	}
}

// decisionKey 为决策订单生成幂等键。审计记录ID保证了同一决策重试时键不变。
func decisionKey(agent string, recordID int64) string {
	raw := fmt.Sprintf("%s:decision:%d", agent, recordID)
	if recordID <= 0 {
		raw = fmt.Sprintf("%s:decision:ts:%d", agent, time.Now().UnixNano())
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// ExecuteDecision 执行一笔决策。任何异常折算为 status=error，
// 由调用方按自己的节奏决定是否重试。
func (e *Executor) ExecuteDecision(ctx context.Context, agent, symbol string, decision ai.Decision) ExecResult {
	release := e.locks.Acquire(agent, symbol)
	defer release()

	decision = decision.Normalized()

	var result ExecResult
	switch decision.Action {
	case ai.ActionHold:
		result = ExecResult{Status: StatusOK, Action: ai.ActionHold, Reason: "观望"}
	case ai.ActionBuy, ai.ActionSell:
		result = e.openPosition(ctx, agent, symbol, decision)
	case ai.ActionClose:
		result = e.closePosition(ctx, agent, symbol, decision)
	default:
		result = ExecResult{Status: StatusError, Action: decision.Action, Error: fmt.Sprintf("未知决策动作: %s", decision.Action)}
	}

	if result.Status == StatusOK && decision.RecordID > 0 {
		if err := e.ledger.MarkDecisionExecuted(ctx, decision.RecordID); err != nil {
			e.logger.Warn("标记决策已执行失败", zap.Int64("decision_id", decision.RecordID), zap.Error(err))
		}
	}

	return result
}

func (e *Executor) openPosition(ctx context.Context, agent, symbol string, decision ai.Decision) ExecResult {
	gw := e.gateways(agent)

	account, err := gw.GetAccount(ctx)
	if err != nil {
		return ExecResult{Status: StatusError, Action: decision.Action, Error: err.Error()}
	}

	if account.AvailableBalance < e.cfg.BalanceFloor {
		return ExecResult{
			Status: StatusSkipped,
			Action: decision.Action,
			Reason: fmt.Sprintf("可用余额 %.2f 低于最低运行门槛 %.2f", account.AvailableBalance, e.cfg.BalanceFloor),
		}
	}

	equity := account.TotalEquity()
	headroom := math.Min(equity-e.cfg.BalanceFloor, e.cfg.EquityCeiling) - account.TotalPositionMargin
	if headroom < e.cfg.MinOrderUSD {
		return ExecResult{
			Status: StatusSkipped,
			Action: decision.Action,
			Reason: fmt.Sprintf("可用额度 %.2f 不足最小下单金额 %.2f", headroom, e.cfg.MinOrderUSD),
		}
	}

	size := decision.SizeUSD
	if limit := equity * e.cfg.MaxEquityFraction; size > limit {
		size = limit
	}
	if size > headroom {
		size = headroom
	}
	if size < e.cfg.MinOrderUSD {
		return ExecResult{
			Status: StatusSkipped,
			Action: decision.Action,
			Reason: fmt.Sprintf("限额后金额 %.2f 低于最小下单金额 %.2f", size, e.cfg.MinOrderUSD),
		}
	}

	leverage := decision.Leverage
	if leverage < e.cfg.MinLeverage {
		leverage = e.cfg.MinLeverage
	}
	if leverage > e.cfg.MaxLeverage {
		leverage = e.cfg.MaxLeverage
	}

	// 杠杆设置失败不阻断下单，按交易所当前杠杆继续。
	if err := gw.ChangeLeverage(ctx, symbol, leverage); err != nil {
		e.logger.Warn("设置杠杆失败，按现有杠杆继续",
			zap.String("agent", agent),
			zap.String("symbol", symbol),
			zap.Int("leverage", leverage),
			zap.Error(err),
		)
	}

	point, err := e.ledger.GetLatestPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ExecResult{Status: StatusError, Action: decision.Action, Error: fmt.Sprintf("%s 无本地最新价", symbol)}
		}
		return ExecResult{Status: StatusError, Action: decision.Action, Error: err.Error()}
	}

	precision := gw.SymbolPrecision(ctx, symbol)
	quantity := roundTo(size*float64(leverage)/point.Price, precision.Quantity)
	if quantity <= 0 {
		return ExecResult{Status: StatusSkipped, Action: decision.Action, Reason: "换算后的下单数量为0"}
	}

	key := decisionKey(agent, decision.RecordID)
	order, err := gw.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          exchange.Side(decision.Action),
		Type:          "MARKET",
		Quantity:      quantity,
		ClientOrderID: key,
	})
	if err != nil {
		return ExecResult{Status: StatusError, Action: decision.Action, Error: err.Error()}
	}

	if err := e.ledger.UpsertOrder(ctx, orderRecord(agent, order, key)); err != nil {
		return ExecResult{Status: StatusError, Action: decision.Action, Error: err.Error()}
	}

	if err := e.refreshPosition(ctx, gw, agent, symbol); err != nil {
		e.logger.Warn("刷新持仓失败", zap.String("agent", agent), zap.String("symbol", symbol), zap.Error(err))
	}

	e.logger.Info("开仓完成",
		zap.String("agent", agent),
		zap.String("symbol", symbol),
		zap.String("action", decision.Action),
		zap.Float64("size_usd", size),
		zap.Int("leverage", leverage),
		zap.Float64("quantity", quantity),
	)

	return ExecResult{
		Status:   StatusOK,
		Action:   decision.Action,
		OrderID:  order.ExchangeOrderID,
		SizeUSD:  size,
		Quantity: quantity,
	}
}

func (e *Executor) closePosition(ctx context.Context, agent, symbol string, decision ai.Decision) ExecResult {
	percent := decision.ClosePercent
	if percent < e.cfg.MinClosePercent {
		percent = e.cfg.MinClosePercent
	}
	if percent > 100 {
		percent = 100
	}

	pos, err := e.ledger.GetPosition(ctx, agent, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ExecResult{Status: StatusOK, Action: ai.ActionClose, Reason: "无持仓可平"}
		}
		return ExecResult{Status: StatusError, Action: ai.ActionClose, Error: err.Error()}
	}

	gw := e.gateways(agent)
	precision := gw.SymbolPrecision(ctx, symbol)
	quantity := roundTo(pos.Size*percent/100, precision.Quantity)
	if quantity <= 0 {
		return ExecResult{Status: StatusOK, Action: ai.ActionClose, Reason: "持仓过小，无需平仓"}
	}

	side := exchange.SideSell
	if pos.Side == positionShort {
		side = exchange.SideBuy
	}

	key := decisionKey(agent, decision.RecordID)
	order, err := gw.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          "MARKET",
		Quantity:      quantity,
		ClientOrderID: key,
		ReduceOnly:    true,
	})
	if err != nil {
		return ExecResult{Status: StatusError, Action: ai.ActionClose, Error: err.Error()}
	}

	if err := e.ledger.UpsertOrder(ctx, orderRecord(agent, order, key)); err != nil {
		return ExecResult{Status: StatusError, Action: ai.ActionClose, Error: err.Error()}
	}

	if percent >= 100 {
		if err := e.ledger.RecordTradeResult(ctx, agent, pos.UnrealizedPnL, 0); err != nil {
			e.logger.Warn("记录平仓结果失败", zap.String("agent", agent), zap.Error(err))
		}
		if err := e.ledger.RemovePosition(ctx, agent, symbol); err != nil {
			return ExecResult{Status: StatusError, Action: ai.ActionClose, Error: err.Error()}
		}
	} else if err := e.refreshPosition(ctx, gw, agent, symbol); err != nil {
		e.logger.Warn("刷新持仓失败", zap.String("agent", agent), zap.String("symbol", symbol), zap.Error(err))
	}

	e.logger.Info("平仓完成",
		zap.String("agent", agent),
		zap.String("symbol", symbol),
		zap.Float64("percent", percent),
		zap.Float64("quantity", quantity),
	)

	return ExecResult{
		Status:   StatusOK,
		Action:   ai.ActionClose,
		OrderID:  order.ExchangeOrderID,
		Quantity: quantity,
	}
}

// refreshPosition 以交易所权威快照为准刷新本地持仓行。
func (e *Executor) refreshPosition(ctx context.Context, gw Gateway, agent, symbol string) error {
	positions, err := gw.GetPositions(ctx, symbol)
	if err != nil {
		return err
	}

	for _, risk := range positions {
		if risk.Symbol != symbol || risk.PositionAmt == 0 {
			continue
		}

		side := positionLong
		size := risk.PositionAmt
		if size < 0 {
			side = positionShort
			size = -size
		}

		return e.ledger.UpsertPosition(ctx, store.Position{
			Agent:         agent,
			Symbol:        symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    risk.EntryPrice,
			CurrentPrice:  risk.MarkPrice,
			UnrealizedPnL: risk.UnrealizedPnL,
			Leverage:      risk.Leverage,
		})
	}

	return e.ledger.RemovePosition(ctx, agent, symbol)
}

func roundTo(value float64, precision int) float64 {
	factor := math.Pow10(precision)
	return math.Floor(value*factor) / factor
}
