package execution

import (
	"context"
	"errors"
	"testing"

	"arena-trader/internal/exchange"
	"arena-trader/internal/grid"
	"arena-trader/internal/risk"
	"arena-trader/internal/store"
)

// fakeLedger 为内存版台账，覆盖执行核心依赖的全部操作。
type fakeLedger struct {
	configSeq int64
	configs   map[int64]store.StrategyConfig
	levels    map[string]store.GridLevel
	orders    map[string]store.Order
	positions map[string]store.Position
	prices    map[string]store.PricePoint
	trades    []float64
	executed  []int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		configs:   make(map[int64]store.StrategyConfig),
		levels:    make(map[string]store.GridLevel),
		orders:    make(map[string]store.Order),
		positions: make(map[string]store.Position),
		prices:    make(map[string]store.PricePoint),
	}
}

func (f *fakeLedger) UpsertStrategyConfig(_ context.Context, cfg store.StrategyConfig) (int64, error) {
	for id, existing := range f.configs {
		if existing.Agent == cfg.Agent && existing.Symbol == cfg.Symbol {
			cfg.ID = id
			f.configs[id] = cfg
			return id, nil
		}
	}
	f.configSeq++
	cfg.ID = f.configSeq
	f.configs[cfg.ID] = cfg
	return cfg.ID, nil
}

func (f *fakeLedger) GetStrategyConfig(_ context.Context, agent, symbol string) (store.StrategyConfig, error) {
	for _, cfg := range f.configs {
		if cfg.Agent == agent && cfg.Symbol == symbol {
			return cfg, nil
		}
	}
	return store.StrategyConfig{}, store.ErrNotFound
}

func (f *fakeLedger) GetStrategyConfigByID(_ context.Context, configID int64) (store.StrategyConfig, error) {
	cfg, ok := f.configs[configID]
	if !ok {
		return store.StrategyConfig{}, store.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeLedger) UpdateStrategyStatus(_ context.Context, agent, symbol string, status store.StrategyStatus) error {
	for id, cfg := range f.configs {
		if cfg.Agent == agent && cfg.Symbol == symbol {
			cfg.Status = status
			f.configs[id] = cfg
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeLedger) InsertGridLevelIfAbsent(_ context.Context, level store.GridLevel) error {
	if _, ok := f.levels[level.IdempotencyKey]; ok {
		return nil
	}
	f.levels[level.IdempotencyKey] = level
	return nil
}

func (f *fakeLedger) UpdateGridLevelState(_ context.Context, key string, state store.LevelState, lastError string) error {
	level, ok := f.levels[key]
	if !ok {
		return store.ErrNotFound
	}
	level.State = state
	level.LastError = lastError
	f.levels[key] = level
	return nil
}

func (f *fakeLedger) GetGridLevels(_ context.Context, configID int64) ([]store.GridLevel, error) {
	var result []store.GridLevel
	for _, level := range f.levels {
		if level.ConfigID == configID {
			result = append(result, level)
		}
	}
	return result, nil
}

func (f *fakeLedger) UpsertOrder(_ context.Context, order store.Order) error {
	if existing, ok := f.orders[order.IdempotencyKey]; ok {
		existing.ExchangeOrderID = order.ExchangeOrderID
		existing.FilledQuantity = order.FilledQuantity
		existing.Status = order.Status
		f.orders[order.IdempotencyKey] = existing
		return nil
	}
	f.orders[order.IdempotencyKey] = order
	return nil
}

func (f *fakeLedger) GetOrderByKey(_ context.Context, key string) (store.Order, error) {
	order, ok := f.orders[key]
	if !ok {
		return store.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (f *fakeLedger) UpsertPosition(_ context.Context, pos store.Position) error {
	f.positions[pos.Agent+"|"+pos.Symbol] = pos
	return nil
}

func (f *fakeLedger) GetPosition(_ context.Context, agent, symbol string) (store.Position, error) {
	pos, ok := f.positions[agent+"|"+symbol]
	if !ok {
		return store.Position{}, store.ErrNotFound
	}
	return pos, nil
}

func (f *fakeLedger) RemovePosition(_ context.Context, agent, symbol string) error {
	delete(f.positions, agent+"|"+symbol)
	return nil
}

func (f *fakeLedger) GetLatestPrice(_ context.Context, symbol string) (store.PricePoint, error) {
	point, ok := f.prices[symbol]
	if !ok {
		return store.PricePoint{}, store.ErrNotFound
	}
	return point, nil
}

func (f *fakeLedger) RecordTradeResult(_ context.Context, _ string, pnl, _ float64) error {
	f.trades = append(f.trades, pnl)
	return nil
}

func (f *fakeLedger) MarkDecisionExecuted(_ context.Context, id int64) error {
	f.executed = append(f.executed, id)
	return nil
}

func (f *fakeLedger) levelStates() map[store.LevelState]int {
	counts := make(map[store.LevelState]int)
	for _, level := range f.levels {
		counts[level.State]++
	}
	return counts
}

// fakeGateway 为脚本化的网关替身。
type fakeGateway struct {
	precision exchange.SymbolPrecision
	existing  map[string]exchange.Order
	placeErr  map[string]error
	queryErr  map[string]error

	placed        []exchange.OrderRequest
	canceled      []string
	leverageSet   []int
	leverageErr   error
	account       exchange.AccountInfo
	accountErr    error
	positionsResp []exchange.PositionRisk
	positionsErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		precision: exchange.SymbolPrecision{Quantity: 3, Price: 2},
		existing:  make(map[string]exchange.Order),
		placeErr:  make(map[string]error),
		queryErr:  make(map[string]error),
	}
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	if err, ok := g.placeErr[req.ClientOrderID]; ok {
		return exchange.Order{}, err
	}
	g.placed = append(g.placed, req)
	order := exchange.Order{
		ExchangeOrderID: "ex-" + req.ClientOrderID,
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Price:           req.Price,
		Quantity:        req.Quantity,
		Status:          "NEW",
	}
	g.existing[req.ClientOrderID] = order
	return order, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _ string, _ string, clientOrderID string) (exchange.Order, error) {
	g.canceled = append(g.canceled, clientOrderID)
	order := g.existing[clientOrderID]
	order.Status = "CANCELED"
	g.existing[clientOrderID] = order
	return order, nil
}

func (g *fakeGateway) QueryOrderByClientID(_ context.Context, _ string, clientOrderID string) (exchange.Order, error) {
	if err, ok := g.queryErr[clientOrderID]; ok {
		return exchange.Order{}, err
	}
	order, ok := g.existing[clientOrderID]
	if !ok {
		return exchange.Order{}, exchange.ErrOrderNotFound
	}
	return order, nil
}

func (g *fakeGateway) GetAccount(_ context.Context) (exchange.AccountInfo, error) {
	return g.account, g.accountErr
}

func (g *fakeGateway) GetPositions(_ context.Context, _ string) ([]exchange.PositionRisk, error) {
	return g.positionsResp, g.positionsErr
}

func (g *fakeGateway) ChangeLeverage(_ context.Context, _ string, leverage int) error {
	g.leverageSet = append(g.leverageSet, leverage)
	return g.leverageErr
}

func (g *fakeGateway) SymbolPrecision(_ context.Context, _ string) exchange.SymbolPrecision {
	return g.precision
}

type passGuard struct{}

func (passGuard) Validate(context.Context, string, string, store.StrategyConfig) error {
	return nil
}

type denyGuard struct {
	rejection *risk.Rejection
}

func (g denyGuard) Validate(context.Context, string, string, store.StrategyConfig) error {
	return g.rejection
}

func testStrategy() store.StrategyConfig {
	return store.StrategyConfig{
		Agent:          "alpha",
		Symbol:         "SOLUSDT",
		PriceLower:     180,
		PriceUpper:     210,
		LevelCount:     5,
		Spacing:        store.SpacingArithmetic,
		BaseAllocation: 500,
		Leverage:       5,
	}
}

func newTestEngine(ledger *fakeLedger, gw *fakeGateway, g guard) *Engine {
	return NewEngine(ledger, func(string) Gateway { return gw }, g, nil)
}

func TestApplyStrategy_PlacesFullLadder(t *testing.T) {
	ledger := newFakeLedger()
	gw := newFakeGateway()
	engine := newTestEngine(ledger, gw, passGuard{})

	result, err := engine.ApplyStrategy(context.Background(), testStrategy())
	if err != nil {
		t.Fatalf("ApplyStrategy returned error: %v", err)
	}

	if result.Status != StatusOK {
		t.Fatalf("expected status ok, got %s", result.Status)
	}
	if result.TotalLevels != 5 || result.Placed != 5 || result.Errors != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(gw.placed) != 5 {
		t.Fatalf("expected 5 exchange orders, got %d", len(gw.placed))
	}

	states := ledger.levelStates()
	if states[store.LevelPlaced] != 5 {
		t.Errorf("expected all levels placed, got %v", states)
	}
	if len(ledger.orders) != 5 {
		t.Errorf("expected order row per placed level, got %d", len(ledger.orders))
	}
}

func TestApplyStrategy_ReapplyIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	gw := newFakeGateway()
	engine := newTestEngine(ledger, gw, passGuard{})

	first, err := engine.ApplyStrategy(context.Background(), testStrategy())
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	second, err := engine.ApplyStrategy(context.Background(), testStrategy())
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if first.ConfigID != second.ConfigID {
		t.Errorf("re-apply must reuse config id: %d vs %d", first.ConfigID, second.ConfigID)
	}
	if second.Placed != 5 {
		t.Errorf("re-apply should still report 5 placed, got %d", second.Placed)
	}
	// 交易所侧订单数不变：全部档位经回查命中已有委托
	if len(gw.placed) != 5 {
		t.Errorf("re-apply must not create new exchange orders, got %d total", len(gw.placed))
	}
}

func TestApplyStrategy_SingleLevelFailureIsIsolated(t *testing.T) {
	ledger := newFakeLedger()
	gw := newFakeGateway()
	engine := newTestEngine(ledger, gw, passGuard{})

	cfg := testStrategy()
	cfg.ID = 1
	// 预知第2档的幂等键并让它下单失败(配置首次落库拿到ID=1)
	failingKey := keyForLevel(cfg, 2)
	gw.placeErr[failingKey] = errors.New("exchange exploded")

	result, err := engine.ApplyStrategy(context.Background(), testStrategy())
	if err != nil {
		t.Fatalf("ApplyStrategy returned error: %v", err)
	}

	if result.Placed != 4 || result.Errors != 1 {
		t.Fatalf("expected 4 placed / 1 error, got %+v", result)
	}

	level := ledger.levels[failingKey]
	if level.State != store.LevelError {
		t.Errorf("failed level should be in error state, got %s", level.State)
	}
	if level.LastError == "" {
		t.Errorf("failed level should carry failure detail")
	}

	states := ledger.levelStates()
	if states[store.LevelPlaced] != 4 {
		t.Errorf("remaining ladder should be placed, got %v", states)
	}
}

func TestApplyStrategy_ErroredLevelRecoversOnReapply(t *testing.T) {
	ledger := newFakeLedger()
	gw := newFakeGateway()
	engine := newTestEngine(ledger, gw, passGuard{})

	cfg := testStrategy()
	cfg.ID = 1
	failingKey := keyForLevel(cfg, 0)
	gw.placeErr[failingKey] = errors.New("transient blip")

	if _, err := engine.ApplyStrategy(context.Background(), testStrategy()); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	delete(gw.placeErr, failingKey)
	result, err := engine.ApplyStrategy(context.Background(), testStrategy())
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if result.Placed != 5 || result.Errors != 0 {
		t.Fatalf("expected full recovery, got %+v", result)
	}
	if ledger.levels[failingKey].State != store.LevelPlaced {
		t.Errorf("errored level should transition back to placed, got %s", ledger.levels[failingKey].State)
	}
}

func TestApplyStrategy_RiskRejection(t *testing.T) {
	ledger := newFakeLedger()
	gw := newFakeGateway()
	engine := newTestEngine(ledger, gw, denyGuard{rejection: &risk.Rejection{Rule: "leverage", Reason: "leverage 20 超过上限 10"}})

	result, err := engine.ApplyStrategy(context.Background(), testStrategy())
	if err != nil {
		t.Fatalf("rejection should not surface as error: %v", err)
	}

	if result.Status != StatusRejected {
		t.Fatalf("expected status rejected, got %s", result.Status)
	}
	if result.Reason == "" {
		t.Errorf("rejected result should carry a reason")
	}
	if len(ledger.levels) != 0 {
		t.Errorf("rejection must not plan any levels, got %d", len(ledger.levels))
	}
	if len(gw.placed) != 0 {
		t.Errorf("rejection must not touch the exchange, got %d orders", len(gw.placed))
	}
}

func TestSyncStrategy_TransitionsFilledLevels(t *testing.T) {
	ledger := newFakeLedger()
	gw := newFakeGateway()
	engine := newTestEngine(ledger, gw, passGuard{})

	cfg := testStrategy()
	applied, err := engine.ApplyStrategy(context.Background(), cfg)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	cfg.ID = applied.ConfigID
	filledKey := keyForLevel(cfg, 1)
	brokenKey := keyForLevel(cfg, 3)

	order := gw.existing[filledKey]
	order.Status = "FILLED"
	order.ExecutedQty = order.Quantity
	gw.existing[filledKey] = order
	gw.queryErr[brokenKey] = errors.New("query timeout")

	result, err := engine.SyncStrategy(context.Background(), applied.ConfigID)
	if err != nil {
		t.Fatalf("SyncStrategy returned error: %v", err)
	}

	if result.Filled != 1 {
		t.Errorf("expected 1 fill, got %d", result.Filled)
	}
	if result.Errors != 1 {
		t.Errorf("per-level sync failure should be counted not fatal, got %d", result.Errors)
	}
	if result.Synced != 4 {
		t.Errorf("expected 4 synced levels, got %d", result.Synced)
	}

	if ledger.levels[filledKey].State != store.LevelFilled {
		t.Errorf("filled level should transition, got %s", ledger.levels[filledKey].State)
	}
	if got := ledger.orders[filledKey].Status; got != "FILLED" {
		t.Errorf("order row should reflect fill, got %s", got)
	}
}

func TestSyncStrategy_UnknownConfig(t *testing.T) {
	engine := newTestEngine(newFakeLedger(), newFakeGateway(), passGuard{})

	if _, err := engine.SyncStrategy(context.Background(), 404); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	ledger := newFakeLedger()
	gw := newFakeGateway()
	engine := newTestEngine(ledger, gw, passGuard{})

	applied, err := engine.ApplyStrategy(context.Background(), testStrategy())
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if err := engine.Pause(context.Background(), "alpha", "SOLUSDT"); err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}

	cfg, err := ledger.GetStrategyConfigByID(context.Background(), applied.ConfigID)
	if err != nil {
		t.Fatalf("config lookup failed: %v", err)
	}
	if cfg.Status != store.StrategyPaused {
		t.Errorf("expected paused status, got %s", cfg.Status)
	}
	if len(gw.canceled) != 5 {
		t.Errorf("pause should cancel all placed levels, canceled %d", len(gw.canceled))
	}
	if ledger.levelStates()[store.LevelCanceled] != 5 {
		t.Errorf("levels should be canceled, got %v", ledger.levelStates())
	}

	if err := engine.Resume(context.Background(), "alpha", "SOLUSDT"); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	cfg, _ = ledger.GetStrategyConfigByID(context.Background(), applied.ConfigID)
	if cfg.Status != store.StrategyActive {
		t.Errorf("expected active status after resume, got %s", cfg.Status)
	}
}

func TestPause_UnknownStrategy(t *testing.T) {
	engine := newTestEngine(newFakeLedger(), newFakeGateway(), passGuard{})

	if err := engine.Pause(context.Background(), "ghost", "SOLUSDT"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func keyForLevel(cfg store.StrategyConfig, index int) string {
	return grid.IdempotencyKey(cfg.Agent, cfg.Symbol, cfg.ID, index)
}
