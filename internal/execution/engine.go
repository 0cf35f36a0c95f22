package execution

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"arena-trader/internal/exchange"
	"arena-trader/internal/grid"
	"arena-trader/internal/risk"
	"arena-trader/internal/store"
)

type guard interface {
	Validate(ctx context.Context, agent, symbol string, strategy store.StrategyConfig) error
}

// Engine 为网格执行核心：把策略配置变成交易所上的幂等委托梯子，
// 并维护台账中的档位状态机。
type Engine struct {
	ledger   Ledger
	gateways GatewayResolver
	guard    guard
	locks    *keyLock
	logger   *zap.Logger
}

// NewEngine 创建执行核心。
func NewEngine(ledger Ledger, gateways GatewayResolver, g guard, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		ledger:   ledger,
		gateways: gateways,
		guard:    g,
		locks:    newKeyLock(),
		logger:   logger,
	}
}

// ApplyStrategy 应用网格策略。相同参数重复调用不会在交易所侧产生新订单：
// 每个档位先按幂等键回查，命中即复用已有委托。
func (e *Engine) ApplyStrategy(ctx context.Context, cfg store.StrategyConfig) (ApplyResult, error) {
	release := e.locks.Acquire(cfg.Agent, cfg.Symbol)
	defer release()

	if err := e.guard.Validate(ctx, cfg.Agent, cfg.Symbol, cfg); err != nil {
		var rejection *risk.Rejection
		if errors.As(err, &rejection) {
			e.logger.Warn("策略被风控拒绝",
				zap.String("agent", cfg.Agent),
				zap.String("symbol", cfg.Symbol),
				zap.String("rule", rejection.Rule),
			)
			return ApplyResult{Status: StatusRejected, Reason: rejection.Reason}, nil
		}
		return ApplyResult{}, err
	}

	cfg.Status = store.StrategyActive
	configID, err := e.ledger.UpsertStrategyConfig(ctx, cfg)
	if err != nil {
		return ApplyResult{}, err
	}
	cfg.ID = configID

	gw := e.gateways(cfg.Agent)
	precision := gw.SymbolPrecision(ctx, cfg.Symbol)

	levels, err := grid.Plan(cfg, precision.Quantity)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("规划网格档位失败: %w", err)
	}

	// 先把全部档位落库为 planned，再做任何网络调用，
	// 中途崩溃也能留下完整的意图记录。
	for _, level := range levels {
		record := store.GridLevel{
			ConfigID:       configID,
			LevelIndex:     level.Index,
			Price:          level.Price,
			Side:           string(level.Side),
			Quantity:       level.Quantity,
			IdempotencyKey: level.IdempotencyKey,
			State:          store.LevelPlanned,
		}
		if err := e.ledger.InsertGridLevelIfAbsent(ctx, record); err != nil {
			return ApplyResult{}, err
		}
	}

	result := ApplyResult{
		Status:      StatusOK,
		ConfigID:    configID,
		TotalLevels: len(levels),
	}

	for _, level := range levels {
		if err := e.placeLevel(ctx, gw, cfg, level); err != nil {
			result.Errors++
			e.logger.Error("档位下单失败",
				zap.String("agent", cfg.Agent),
				zap.String("symbol", cfg.Symbol),
				zap.Int("level", level.Index),
				zap.Error(err),
			)
			if stateErr := e.ledger.UpdateGridLevelState(ctx, level.IdempotencyKey, store.LevelError, err.Error()); stateErr != nil {
				e.logger.Error("更新档位状态失败", zap.String("key", level.IdempotencyKey), zap.Error(stateErr))
			}
			continue
		}
		result.Placed++
	}

	e.logger.Info("网格策略应用完成",
		zap.String("agent", cfg.Agent),
		zap.String("symbol", cfg.Symbol),
		zap.Int64("config_id", configID),
		zap.Int("placed", result.Placed),
		zap.Int("errors", result.Errors),
	)

	return result, nil
}

func (e *Engine) placeLevel(ctx context.Context, gw Gateway, cfg store.StrategyConfig, level grid.Level) error {
	// 回查优先：重复应用或上次崩溃遗留的委托直接复用。
	existing, queryErr := gw.QueryOrderByClientID(ctx, cfg.Symbol, level.IdempotencyKey)
	if queryErr == nil {
		return e.recordPlaced(ctx, cfg.Agent, existing, level.IdempotencyKey)
	}
	if !errors.Is(queryErr, exchange.ErrOrderNotFound) {
		return queryErr
	}

	order, err := gw.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        cfg.Symbol,
		Side:          level.Side,
		Type:          "LIMIT",
		Quantity:      level.Quantity,
		Price:         level.Price,
		TimeInForce:   "GTC",
		ClientOrderID: level.IdempotencyKey,
	})
	if err != nil {
		return err
	}

	return e.recordPlaced(ctx, cfg.Agent, order, level.IdempotencyKey)
}

func (e *Engine) recordPlaced(ctx context.Context, agent string, order exchange.Order, key string) error {
	if err := e.ledger.UpsertOrder(ctx, orderRecord(agent, order, key)); err != nil {
		return err
	}
	state := store.LevelPlaced
	if order.Filled() {
		state = store.LevelFilled
	}
	return e.ledger.UpdateGridLevelState(ctx, key, state, "")
}

// SyncStrategy 对账扫描：逐档回查交易所委托，更新本地订单与档位状态。
// 单个档位的失败只计数并跳过，不影响其余档位。
func (e *Engine) SyncStrategy(ctx context.Context, configID int64) (SyncResult, error) {
	cfg, err := e.ledger.GetStrategyConfigByID(ctx, configID)
	if err != nil {
		return SyncResult{}, err
	}

	release := e.locks.Acquire(cfg.Agent, cfg.Symbol)
	defer release()

	levels, err := e.ledger.GetGridLevels(ctx, configID)
	if err != nil {
		return SyncResult{}, err
	}

	gw := e.gateways(cfg.Agent)
	result := SyncResult{Status: StatusOK, ConfigID: configID}

	for _, level := range levels {
		if level.State != store.LevelPlaced && level.State != store.LevelFilled {
			continue
		}

		order, err := gw.QueryOrderByClientID(ctx, cfg.Symbol, level.IdempotencyKey)
		if err != nil {
			result.Errors++
			e.logger.Warn("对账回查失败",
				zap.Int64("config_id", configID),
				zap.Int("level", level.LevelIndex),
				zap.Error(err),
			)
			continue
		}

		if err := e.ledger.UpsertOrder(ctx, orderRecord(cfg.Agent, order, level.IdempotencyKey)); err != nil {
			result.Errors++
			continue
		}
		result.Synced++

		if order.Filled() && level.State != store.LevelFilled {
			if err := e.ledger.UpdateGridLevelState(ctx, level.IdempotencyKey, store.LevelFilled, ""); err != nil {
				result.Errors++
				continue
			}
			result.Filled++
		}
	}

	e.logger.Info("对账扫描完成",
		zap.Int64("config_id", configID),
		zap.Int("synced", result.Synced),
		zap.Int("filled", result.Filled),
		zap.Int("errors", result.Errors),
	)

	return result, nil
}

// Pause 暂停策略并撤销仍在挂单中的档位委托。
func (e *Engine) Pause(ctx context.Context, agent, symbol string) error {
	release := e.locks.Acquire(agent, symbol)
	defer release()

	cfg, err := e.ledger.GetStrategyConfig(ctx, agent, symbol)
	if err != nil {
		return err
	}

	if err := e.ledger.UpdateStrategyStatus(ctx, agent, symbol, store.StrategyPaused); err != nil {
		return err
	}

	levels, err := e.ledger.GetGridLevels(ctx, cfg.ID)
	if err != nil {
		return err
	}

	gw := e.gateways(agent)
	for _, level := range levels {
		if level.State != store.LevelPlaced {
			continue
		}
		if _, err := gw.CancelOrder(ctx, symbol, "", level.IdempotencyKey); err != nil {
			e.logger.Warn("撤单失败",
				zap.String("agent", agent),
				zap.Int("level", level.LevelIndex),
				zap.Error(err),
			)
			continue
		}
		if err := e.ledger.UpdateGridLevelState(ctx, level.IdempotencyKey, store.LevelCanceled, ""); err != nil {
			e.logger.Error("更新档位状态失败", zap.String("key", level.IdempotencyKey), zap.Error(err))
		}
	}

	e.logger.Info("策略已暂停", zap.String("agent", agent), zap.String("symbol", symbol))
	return nil
}

// Resume 恢复策略为 active。已撤销档位由下一次 ApplyStrategy 重新规划。
func (e *Engine) Resume(ctx context.Context, agent, symbol string) error {
	release := e.locks.Acquire(agent, symbol)
	defer release()

	if _, err := e.ledger.GetStrategyConfig(ctx, agent, symbol); err != nil {
		return err
	}

	if err := e.ledger.UpdateStrategyStatus(ctx, agent, symbol, store.StrategyActive); err != nil {
		return err
	}

	e.logger.Info("策略已恢复", zap.String("agent", agent), zap.String("symbol", symbol))
	return nil
}
