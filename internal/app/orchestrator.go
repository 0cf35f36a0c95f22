package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arena-trader/internal/ai"
	"arena-trader/internal/config"
	"arena-trader/internal/exchange"
	"arena-trader/internal/execution"
	"arena-trader/internal/feature"
	"arena-trader/internal/market"
	"arena-trader/internal/monitor"
	"arena-trader/internal/risk"
	"arena-trader/internal/store"
)

type assetPipeline struct {
	unifiedSymbol string
	nativeSymbol  string
	feed          *market.Feed
}

type orchestrator struct {
	cfg       *config.Config
	ledger    *store.Store
	exchanges *exchange.Registry
	aiClients *ai.Registry
	engine    *execution.Engine
	executor  *execution.Executor
	monitor   *monitor.Service
	extractor *feature.Extractor
	assets    []assetPipeline
	logger    *zap.Logger

	decisionInterval time.Duration
	syncInterval     time.Duration
	lastDecision     time.Time
	lastSync         time.Time
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, ledger *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	exchanges := exchange.NewRegistry(cfg.Aster, cfg.Agents, logger)
	resolver := func(agent string) execution.Gateway {
		return exchanges.ForAgent(agent)
	}

	aiClients, err := ai.NewRegistry(cfg.Agents, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化 AI 客户端失败: %w", err)
	}

	guard := risk.NewGuard(cfg.Risk, ledger, logger)
	engine := execution.NewEngine(ledger, resolver, guard, logger)
	executor := execution.NewExecutor(cfg.Execution, ledger, resolver, logger)

	monitorSvc, err := monitor.NewService(ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	assets := make([]assetPipeline, 0, len(cfg.Market.Symbols))
	for _, symbol := range cfg.Market.Symbols {
		client, err := market.NewClient(cfg.Market, symbol, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化行情客户端失败 (%s): %w", symbol, err)
		}
		assets = append(assets, assetPipeline{
			unifiedSymbol: symbol,
			nativeSymbol:  market.NativeSymbol(symbol),
			feed:          market.NewFeed(client, ledger, logger),
		})
	}

	return &orchestrator{
		cfg:              cfg,
		ledger:           ledger,
		exchanges:        exchanges,
		aiClients:        aiClients,
		engine:           engine,
		executor:         executor,
		monitor:          monitorSvc,
		extractor:        feature.NewExtractor(feature.NewCalculator(), logger),
		assets:           assets,
		logger:           logger,
		decisionInterval: cfg.Scheduler.DecisionInterval,
		syncInterval:     cfg.Scheduler.SyncInterval,
	}, nil
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

// initAccounts 为每个代理初始化资金台账，已存在的记录保持不变。
func (o *orchestrator) initAccounts(ctx context.Context) error {
	for _, agent := range o.cfg.Agents {
		if err := o.ledger.InitAccount(ctx, agent.Name, agent.InitialBalance); err != nil {
			return fmt.Errorf("初始化代理 %s 资金台账失败: %w", agent.Name, err)
		}
	}
	return nil
}

// Tick 为主循环的一次调度：刷新价格，按节奏执行决策循环与对账扫描。
func (o *orchestrator) Tick(ctx context.Context) error {
	for _, asset := range o.assets {
		if err := asset.feed.RefreshPrice(ctx); err != nil {
			o.monitor.RecordError(ctx, "刷新最新价失败", err, map[string]interface{}{"symbol": asset.unifiedSymbol})
			o.logger.Warn("刷新最新价失败", zap.String("symbol", asset.unifiedSymbol), zap.Error(err))
		}
	}

	now := time.Now().UTC()

	if o.lastDecision.IsZero() || now.Sub(o.lastDecision) >= o.decisionInterval {
		o.runDecisionCycle(ctx)
		o.lastDecision = now
	}

	if o.lastSync.IsZero() || now.Sub(o.lastSync) >= o.syncInterval {
		o.runSyncSweep(ctx)
		o.syncAccounts(ctx)
		o.lastSync = now
	}

	return nil
}

// syncAccounts 以交易所权益为准刷新各代理的余额与累计盈亏，驱动排行榜。
func (o *orchestrator) syncAccounts(ctx context.Context) {
	for _, agent := range o.cfg.Agents {
		account, err := o.exchanges.ForAgent(agent.Name).GetAccount(ctx)
		if err != nil {
			o.logger.Warn("查询交易所账户失败", zap.String("agent", agent.Name), zap.Error(err))
			continue
		}

		stored, err := o.ledger.GetAccount(ctx, agent.Name)
		if err != nil {
			o.logger.Warn("查询本地账户失败", zap.String("agent", agent.Name), zap.Error(err))
			continue
		}

		equity := account.TotalEquity()
		if err := o.ledger.UpdateAccountBalance(ctx, agent.Name, equity, equity-stored.InitialBalance); err != nil {
			o.logger.Warn("同步账户余额失败", zap.String("agent", agent.Name), zap.Error(err))
		}
	}
}

// runDecisionCycle 执行一轮决策：快照 -> 特征 -> 模型 -> 执行。
// 单个代理的失败不影响其余代理。
func (o *orchestrator) runDecisionCycle(ctx context.Context) {
	for _, asset := range o.assets {
		snapshot, err := asset.feed.GetSnapshot(ctx, 200)
		if err != nil {
			o.monitor.RecordError(ctx, "拉取市场数据失败", err, map[string]interface{}{"symbol": asset.unifiedSymbol})
			o.logger.Error("拉取市场数据失败", zap.String("symbol", asset.unifiedSymbol), zap.Error(err))
			continue
		}

		features, err := o.extractor.Extract(ctx, snapshot)
		if err != nil {
			o.monitor.RecordError(ctx, "特征计算失败", err, map[string]interface{}{"symbol": asset.unifiedSymbol})
			o.logger.Error("特征计算失败", zap.String("symbol", asset.unifiedSymbol), zap.Error(err))
			continue
		}

		for _, agent := range o.cfg.Agents {
			o.runAgentDecision(ctx, agent.Name, asset, features)
		}
	}
}

func (o *orchestrator) runAgentDecision(ctx context.Context, agent string, asset assetPipeline, features feature.Snapshot) {
	client, err := o.aiClients.ForAgent(agent)
	if err != nil {
		o.logger.Error("解析 AI 客户端失败", zap.String("agent", agent), zap.Error(err))
		return
	}

	posCtx, err := o.buildPositionContext(ctx, agent, asset.nativeSymbol)
	if err != nil {
		o.monitor.RecordError(ctx, "构建持仓上下文失败", err, map[string]interface{}{"agent": agent, "symbol": asset.nativeSymbol})
		o.logger.Error("构建持仓上下文失败", zap.String("agent", agent), zap.Error(err))
		return
	}

	decision, err := client.GenerateDecision(ctx, features, posCtx)
	if err != nil {
		o.monitor.RecordError(ctx, "AI 决策失败", err, map[string]interface{}{"agent": agent})
		o.logger.Error("AI 决策失败", zap.String("agent", agent), zap.Error(err))
		return
	}

	recordID, err := o.persistDecision(ctx, agent, asset.nativeSymbol, decision)
	if err != nil {
		o.logger.Error("持久化决策失败", zap.String("agent", agent), zap.Error(err))
		return
	}
	decision.RecordID = recordID

	o.monitor.RecordDecision(ctx, agent, asset.nativeSymbol, features, decision)

	result := o.executor.ExecuteDecision(ctx, agent, asset.nativeSymbol, decision)
	o.monitor.RecordExecution(ctx, agent, asset.nativeSymbol, result)

	o.logger.Info("决策执行完成",
		zap.String("agent", agent),
		zap.String("symbol", asset.nativeSymbol),
		zap.String("action", decision.Action),
		zap.String("status", result.Status),
		zap.String("reason", result.Reason),
	)
}

// persistDecision 在执行前落库决策审计记录，执行成功后由执行器标记 executed。
func (o *orchestrator) persistDecision(ctx context.Context, agent, symbol string, decision ai.Decision) (int64, error) {
	payload, err := json.Marshal(decision)
	if err != nil {
		return 0, fmt.Errorf("序列化决策失败: %w", err)
	}

	return o.ledger.InsertDecision(ctx, store.DecisionRecord{
		Agent:      agent,
		Symbol:     symbol,
		Action:     decision.Action,
		Reasoning:  decision.Reasoning,
		Confidence: decision.Confidence,
		Payload:    string(payload),
	})
}

func (o *orchestrator) buildPositionContext(ctx context.Context, agent, symbol string) (ai.PositionContext, error) {
	posCtx := ai.PositionContext{Side: "FLAT"}

	pos, err := o.ledger.GetPosition(ctx, agent, symbol)
	if err == nil {
		posCtx.Side = pos.Side
		posCtx.Size = pos.Size
		posCtx.EntryPrice = pos.EntryPrice
		posCtx.UnrealizedPnL = pos.UnrealizedPnL
	} else if !errors.Is(err, store.ErrNotFound) {
		return ai.PositionContext{}, err
	}

	account, err := o.exchanges.ForAgent(agent).GetAccount(ctx)
	if err != nil {
		return ai.PositionContext{}, err
	}
	posCtx.AvailableBalance = account.AvailableBalance

	return posCtx, nil
}

// runSyncSweep 对全部 active 策略做一轮对账。
func (o *orchestrator) runSyncSweep(ctx context.Context) {
	configs, err := o.ledger.ListStrategyConfigsByStatus(ctx, store.StrategyActive)
	if err != nil {
		o.logger.Error("查询活跃策略失败", zap.Error(err))
		return
	}

	for _, cfg := range configs {
		result, err := o.engine.SyncStrategy(ctx, cfg.ID)
		if err != nil {
			o.monitor.RecordError(ctx, "对账扫描失败", err, map[string]interface{}{"config_id": cfg.ID})
			o.logger.Error("对账扫描失败", zap.Int64("config_id", cfg.ID), zap.Error(err))
			continue
		}
		o.monitor.RecordGridSync(ctx, result)
	}
}
