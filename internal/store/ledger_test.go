package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"arena-trader/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleConfig() StrategyConfig {
	return StrategyConfig{
		Agent:          "alpha",
		Symbol:         "SOLUSDT",
		PriceLower:     180,
		PriceUpper:     210,
		LevelCount:     5,
		Spacing:        SpacingArithmetic,
		BaseAllocation: 500,
		Leverage:       5,
		Status:         StrategyActive,
	}
}

func TestUpsertStrategyConfig_ReplaceKeepsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertStrategyConfig(ctx, sampleConfig())
	if err != nil {
		t.Fatalf("insert config: %v", err)
	}

	updated := sampleConfig()
	updated.PriceUpper = 250
	updated.Status = StrategyPaused
	again, err := s.UpsertStrategyConfig(ctx, updated)
	if err != nil {
		t.Fatalf("replace config: %v", err)
	}
	if again != id {
		t.Errorf("replace must keep the config ID, got %d then %d", id, again)
	}

	cfg, err := s.GetStrategyConfig(ctx, "alpha", "SOLUSDT")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.PriceUpper != 250 || cfg.Status != StrategyPaused {
		t.Errorf("replace did not overwrite fields: %+v", cfg)
	}
	if cfg.Spacing != SpacingArithmetic {
		t.Errorf("unexpected spacing: %s", cfg.Spacing)
	}
}

func TestGetStrategyConfig_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetStrategyConfig(context.Background(), "ghost", "SOLUSDT"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStrategyStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertStrategyConfig(ctx, sampleConfig()); err != nil {
		t.Fatalf("insert config: %v", err)
	}
	if err := s.UpdateStrategyStatus(ctx, "alpha", "SOLUSDT", StrategyTripped); err != nil {
		t.Fatalf("update status: %v", err)
	}

	cfg, err := s.GetStrategyConfig(ctx, "alpha", "SOLUSDT")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Status != StrategyTripped {
		t.Errorf("expected tripped, got %s", cfg.Status)
	}

	if err := s.UpdateStrategyStatus(ctx, "ghost", "SOLUSDT", StrategyPaused); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown strategy, got %v", err)
	}
}

func TestListStrategyConfigsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleConfig()
	if _, err := s.UpsertStrategyConfig(ctx, first); err != nil {
		t.Fatalf("insert config: %v", err)
	}
	second := sampleConfig()
	second.Agent = "beta"
	second.Status = StrategyPaused
	if _, err := s.UpsertStrategyConfig(ctx, second); err != nil {
		t.Fatalf("insert config: %v", err)
	}

	active, err := s.ListStrategyConfigsByStatus(ctx, StrategyActive)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Agent != "alpha" {
		t.Errorf("unexpected active set: %+v", active)
	}
}

func TestInsertGridLevelIfAbsent_DuplicateIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	configID, err := s.UpsertStrategyConfig(ctx, sampleConfig())
	if err != nil {
		t.Fatalf("insert config: %v", err)
	}

	level := GridLevel{
		ConfigID:       configID,
		LevelIndex:     0,
		Price:          180,
		Side:           "BUY",
		Quantity:       2.5,
		IdempotencyKey: "abcd1234abcd1234",
		State:          LevelPlanned,
	}
	if err := s.InsertGridLevelIfAbsent(ctx, level); err != nil {
		t.Fatalf("insert level: %v", err)
	}
	if err := s.UpdateGridLevelState(ctx, level.IdempotencyKey, LevelPlaced, ""); err != nil {
		t.Fatalf("update level state: %v", err)
	}

	// 同键重复插入不得覆盖已有状态
	dup := level
	dup.Price = 999
	if err := s.InsertGridLevelIfAbsent(ctx, dup); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	levels, err := s.GetGridLevels(ctx, configID)
	if err != nil {
		t.Fatalf("get levels: %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("expected one level, got %d", len(levels))
	}
	if levels[0].State != LevelPlaced {
		t.Errorf("duplicate insert must not reset state, got %s", levels[0].State)
	}
	if levels[0].Price != 180 {
		t.Errorf("duplicate insert must not change price, got %f", levels[0].Price)
	}
}

func TestUpdateGridLevelState_RecordsLastError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	configID, err := s.UpsertStrategyConfig(ctx, sampleConfig())
	if err != nil {
		t.Fatalf("insert config: %v", err)
	}
	level := GridLevel{
		ConfigID: configID, LevelIndex: 1, Price: 187.5, Side: "BUY",
		Quantity: 2, IdempotencyKey: "feed5678feed5678", State: LevelPlanned,
	}
	if err := s.InsertGridLevelIfAbsent(ctx, level); err != nil {
		t.Fatalf("insert level: %v", err)
	}
	if err := s.UpdateGridLevelState(ctx, level.IdempotencyKey, LevelError, "exchange unavailable"); err != nil {
		t.Fatalf("update level: %v", err)
	}

	levels, err := s.GetGridLevels(ctx, configID)
	if err != nil {
		t.Fatalf("get levels: %v", err)
	}
	if levels[0].State != LevelError || levels[0].LastError != "exchange unavailable" {
		t.Errorf("unexpected level row: %+v", levels[0])
	}
}

func sampleOrder(key string) Order {
	return Order{
		Agent:           "alpha",
		Symbol:          "SOLUSDT",
		IdempotencyKey:  key,
		ExchangeOrderID: "900001",
		Side:            "BUY",
		Price:           195,
		Quantity:        2.5,
		FilledQuantity:  0,
		Status:          "NEW",
	}
}

func TestUpsertOrder_ReconcileKeepsImmutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertOrder(ctx, sampleOrder("key-1")); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	// 对账更新：价格/数量/方向不得被覆盖
	reconciled := sampleOrder("key-1")
	reconciled.Price = 1
	reconciled.Quantity = 99
	reconciled.Side = "SELL"
	reconciled.FilledQuantity = 2.5
	reconciled.Status = "FILLED"
	reconciled.PnL = 3.75
	if err := s.UpsertOrder(ctx, reconciled); err != nil {
		t.Fatalf("reconcile order: %v", err)
	}

	order, err := s.GetOrderByKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Price != 195 || order.Quantity != 2.5 || order.Side != "BUY" {
		t.Errorf("immutable fields were overwritten: %+v", order)
	}
	if order.FilledQuantity != 2.5 || order.Status != "FILLED" || order.PnL != 3.75 {
		t.Errorf("mutable fields were not updated: %+v", order)
	}
}

func TestGetOrderByKey_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetOrderByKey(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDailyRealizedPnL_UTCWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	today := sampleOrder("key-today")
	today.PnL = 12.5
	if err := s.UpsertOrder(ctx, today); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	second := sampleOrder("key-today-2")
	second.PnL = -4.5
	if err := s.UpsertOrder(ctx, second); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	// 昨日订单直接落库，验证日期窗口过滤
	yesterday := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	if _, err := s.DB().ExecContext(ctx, `
		INSERT INTO orders
			(agent, symbol, idempotency_key, exchange_order_id, side, price, quantity,
			 filled_quantity, status, fee, pnl, created_at, updated_at)
		VALUES ('alpha', 'SOLUSDT', 'key-old', '900000', 'BUY', 190, 1, 1, 'FILLED', 0, -100, ?, ?)`,
		yesterday, yesterday); err != nil {
		t.Fatalf("seed old order: %v", err)
	}

	pnl, err := s.DailyRealizedPnL(ctx, "alpha", time.Now())
	if err != nil {
		t.Fatalf("daily pnl: %v", err)
	}
	if pnl != 8 {
		t.Errorf("expected today's pnl 8, got %f", pnl)
	}
}

func TestDailyRealizedPnL_EmptyDayIsZero(t *testing.T) {
	s := newTestStore(t)
	pnl, err := s.DailyRealizedPnL(context.Background(), "alpha", time.Now())
	if err != nil {
		t.Fatalf("daily pnl: %v", err)
	}
	if pnl != 0 {
		t.Errorf("expected 0 for empty day, got %f", pnl)
	}
}

func TestInitAccount_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InitAccount(ctx, "alpha", 1000); err != nil {
		t.Fatalf("init account: %v", err)
	}
	if err := s.UpdateAccountBalance(ctx, "alpha", 1200, 200); err != nil {
		t.Fatalf("update balance: %v", err)
	}

	// 重复初始化不得重置余额
	if err := s.InitAccount(ctx, "alpha", 1000); err != nil {
		t.Fatalf("re-init account: %v", err)
	}

	account, err := s.GetAccount(ctx, "alpha")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.CurrentBalance != 1200 || account.TotalPnL != 200 {
		t.Errorf("re-init reset the account: %+v", account)
	}
}

func TestRecordTradeResult_CountsWinsAndLosses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InitAccount(ctx, "alpha", 1000); err != nil {
		t.Fatalf("init account: %v", err)
	}
	if err := s.RecordTradeResult(ctx, "alpha", 25, 0.05); err != nil {
		t.Fatalf("record win: %v", err)
	}
	if err := s.RecordTradeResult(ctx, "alpha", -10, 0.12); err != nil {
		t.Fatalf("record loss: %v", err)
	}
	if err := s.RecordTradeResult(ctx, "alpha", 0, 0.02); err != nil {
		t.Fatalf("record flat: %v", err)
	}

	account, err := s.GetAccount(ctx, "alpha")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.TotalTrades != 3 || account.WinningTrades != 1 || account.LosingTrades != 1 {
		t.Errorf("unexpected trade stats: %+v", account)
	}
	if account.MaxDrawdown != 0.12 {
		t.Errorf("max drawdown should keep the worst value, got %f", account.MaxDrawdown)
	}

	if err := s.RecordTradeResult(ctx, "ghost", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown agent, got %v", err)
	}
}

func TestListAccounts_OrderedByTotalPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, agent := range []string{"alpha", "beta", "gamma"} {
		if err := s.InitAccount(ctx, agent, 1000); err != nil {
			t.Fatalf("init %s: %v", agent, err)
		}
	}
	if err := s.UpdateAccountBalance(ctx, "alpha", 950, -50); err != nil {
		t.Fatalf("update alpha: %v", err)
	}
	if err := s.UpdateAccountBalance(ctx, "gamma", 1300, 300); err != nil {
		t.Fatalf("update gamma: %v", err)
	}

	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	if accounts[0].Agent != "gamma" || accounts[2].Agent != "alpha" {
		t.Errorf("leaderboard out of order: %s, %s, %s",
			accounts[0].Agent, accounts[1].Agent, accounts[2].Agent)
	}
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := Position{
		Agent: "alpha", Symbol: "SOLUSDT", Side: "LONG",
		Size: 2.5, EntryPrice: 195, CurrentPrice: 198, UnrealizedPnL: 7.5, Leverage: 5,
	}
	if err := s.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("upsert position: %v", err)
	}

	pos.Size = 1.25
	pos.UnrealizedPnL = 3.75
	if err := s.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("overwrite position: %v", err)
	}

	got, err := s.GetPosition(ctx, "alpha", "SOLUSDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if got.Size != 1.25 || got.Side != "LONG" {
		t.Errorf("unexpected position: %+v", got)
	}

	if err := s.RemovePosition(ctx, "alpha", "SOLUSDT"); err != nil {
		t.Fatalf("remove position: %v", err)
	}
	if _, err := s.GetPosition(ctx, "alpha", "SOLUSDT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestGetLatestPrice_ReturnsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, price := range []float64{190, 195, 192} {
		point := PricePoint{
			Symbol:    "SOLUSDT",
			Price:     price,
			Volume:    1000,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertPrice(ctx, point); err != nil {
			t.Fatalf("insert price: %v", err)
		}
	}

	point, err := s.GetLatestPrice(ctx, "SOLUSDT")
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if point.Price != 192 {
		t.Errorf("expected latest price 192, got %f", point.Price)
	}

	if _, err := s.GetLatestPrice(ctx, "BTCUSDT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown symbol, got %v", err)
	}
}

func TestDecisionAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertDecision(ctx, DecisionRecord{
		Agent: "alpha", Symbol: "SOLUSDT", Action: "BUY",
		Reasoning: "趋势向上", Confidence: 0.8, Payload: `{"action":"BUY"}`,
	})
	if err != nil {
		t.Fatalf("insert decision: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive record id, got %d", id)
	}

	if err := s.MarkDecisionExecuted(ctx, id); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	var executed int
	row := s.DB().QueryRowContext(ctx, `SELECT executed FROM agent_decisions WHERE id = ?`, id)
	if err := row.Scan(&executed); err != nil {
		t.Fatalf("read decision row: %v", err)
	}
	if executed != 1 {
		t.Errorf("decision should be marked executed")
	}
}
