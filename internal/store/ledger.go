package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound 表示查询对象不存在，调用方需要与一般失败区分处理。
var ErrNotFound = errors.New("store: record not found")

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// UpsertStrategyConfig 创建或替换 (agent, symbol) 的策略配置，返回配置 ID。
// 重新应用策略会把 status 重置为传入值，其余字段整体覆盖。
func (s *Store) UpsertStrategyConfig(ctx context.Context, cfg StrategyConfig) (int64, error) {
	ts := now()
	rebalance := 0
	if cfg.Rebalance {
		rebalance = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_configs
			(agent, symbol, price_lower, price_upper, level_count, spacing,
			 base_allocation, leverage, take_profit_pct, stop_loss_pct, rebalance, status,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent, symbol) DO UPDATE SET
			price_lower = excluded.price_lower,
			price_upper = excluded.price_upper,
			level_count = excluded.level_count,
			spacing = excluded.spacing,
			base_allocation = excluded.base_allocation,
			leverage = excluded.leverage,
			take_profit_pct = excluded.take_profit_pct,
			stop_loss_pct = excluded.stop_loss_pct,
			rebalance = excluded.rebalance,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		cfg.Agent, cfg.Symbol, cfg.PriceLower, cfg.PriceUpper, cfg.LevelCount, string(cfg.Spacing),
		cfg.BaseAllocation, cfg.Leverage, cfg.TakeProfitPct, cfg.StopLossPct, rebalance, string(cfg.Status),
		ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("store: 写入策略配置失败: %w", err)
	}

	var id int64
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM strategy_configs WHERE agent = ? AND symbol = ?`, cfg.Agent, cfg.Symbol)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: 查询策略配置 ID 失败: %w", err)
	}

	return id, nil
}

// GetStrategyConfig 查询 (agent, symbol) 的策略配置。
func (s *Store) GetStrategyConfig(ctx context.Context, agent, symbol string) (StrategyConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent, symbol, price_lower, price_upper, level_count, spacing,
		       base_allocation, leverage, take_profit_pct, stop_loss_pct, rebalance, status,
		       created_at, updated_at
		FROM strategy_configs WHERE agent = ? AND symbol = ?`, agent, symbol)
	return scanStrategyConfig(row)
}

// GetStrategyConfigByID 按配置 ID 查询策略配置。
func (s *Store) GetStrategyConfigByID(ctx context.Context, configID int64) (StrategyConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent, symbol, price_lower, price_upper, level_count, spacing,
		       base_allocation, leverage, take_profit_pct, stop_loss_pct, rebalance, status,
		       created_at, updated_at
		FROM strategy_configs WHERE id = ?`, configID)
	return scanStrategyConfig(row)
}

func scanStrategyConfig(row *sql.Row) (StrategyConfig, error) {
	var (
		cfg                  StrategyConfig
		spacing, status      string
		rebalance            int
		createdAt, updatedAt string
	)
	err := row.Scan(&cfg.ID, &cfg.Agent, &cfg.Symbol, &cfg.PriceLower, &cfg.PriceUpper,
		&cfg.LevelCount, &spacing, &cfg.BaseAllocation, &cfg.Leverage,
		&cfg.TakeProfitPct, &cfg.StopLossPct, &rebalance, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, ErrNotFound
	}
	if err != nil {
		return cfg, fmt.Errorf("store: 查询策略配置失败: %w", err)
	}
	cfg.Spacing = SpacingKind(spacing)
	cfg.Status = StrategyStatus(status)
	cfg.Rebalance = rebalance == 1
	cfg.CreatedAt = parseTime(createdAt)
	cfg.UpdatedAt = parseTime(updatedAt)
	return cfg, nil
}

// ListStrategyConfigsByStatus 列出指定状态的全部策略配置。
func (s *Store) ListStrategyConfigsByStatus(ctx context.Context, status StrategyStatus) ([]StrategyConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, symbol, price_lower, price_upper, level_count, spacing,
		       base_allocation, leverage, take_profit_pct, stop_loss_pct, rebalance, status,
		       created_at, updated_at
		FROM strategy_configs WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: 查询策略配置列表失败: %w", err)
	}
	defer rows.Close()

	var configs []StrategyConfig
	for rows.Next() {
		var (
			cfg                  StrategyConfig
			spacing, statusText  string
			rebalance            int
			createdAt, updatedAt string
		)
		if err := rows.Scan(&cfg.ID, &cfg.Agent, &cfg.Symbol, &cfg.PriceLower, &cfg.PriceUpper,
			&cfg.LevelCount, &spacing, &cfg.BaseAllocation, &cfg.Leverage,
			&cfg.TakeProfitPct, &cfg.StopLossPct, &rebalance, &statusText, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: 解析策略配置失败: %w", err)
		}
		cfg.Spacing = SpacingKind(spacing)
		cfg.Status = StrategyStatus(statusText)
		cfg.Rebalance = rebalance == 1
		cfg.CreatedAt = parseTime(createdAt)
		cfg.UpdatedAt = parseTime(updatedAt)
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历策略配置失败: %w", err)
	}

	return configs, nil
}

// UpdateStrategyStatus 更新策略状态（active/paused/tripped）。
func (s *Store) UpdateStrategyStatus(ctx context.Context, agent, symbol string, status StrategyStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE strategy_configs SET status = ?, updated_at = ? WHERE agent = ? AND symbol = ?`,
		string(status), now(), agent, symbol)
	if err != nil {
		return fmt.Errorf("store: 更新策略状态失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: 读取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertGridLevelIfAbsent 插入网格档位，幂等键冲突时保持原记录不变。
func (s *Store) InsertGridLevelIfAbsent(ctx context.Context, level GridLevel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_levels
			(config_id, level_index, price, side, quantity, idempotency_key, state, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)
		ON CONFLICT(idempotency_key) DO NOTHING`,
		level.ConfigID, level.LevelIndex, level.Price, level.Side, level.Quantity,
		level.IdempotencyKey, string(level.State), now(),
	)
	if err != nil {
		return fmt.Errorf("store: 写入网格档位失败: %w", err)
	}
	return nil
}

// UpdateGridLevelState 按幂等键更新档位状态与最近错误。
func (s *Store) UpdateGridLevelState(ctx context.Context, idempotencyKey string, state LevelState, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE grid_levels SET state = ?, last_error = ?, updated_at = ? WHERE idempotency_key = ?`,
		string(state), lastError, now(), idempotencyKey)
	if err != nil {
		return fmt.Errorf("store: 更新网格档位状态失败: %w", err)
	}
	return nil
}

// GetGridLevels 按档位序号返回指定配置的全部档位。
func (s *Store) GetGridLevels(ctx context.Context, configID int64) ([]GridLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, level_index, price, side, quantity, idempotency_key, state,
		       COALESCE(last_error, ''), updated_at
		FROM grid_levels WHERE config_id = ? ORDER BY level_index`, configID)
	if err != nil {
		return nil, fmt.Errorf("store: 查询网格档位失败: %w", err)
	}
	defer rows.Close()

	var levels []GridLevel
	for rows.Next() {
		var (
			level     GridLevel
			state     string
			updatedAt string
		)
		if err := rows.Scan(&level.ID, &level.ConfigID, &level.LevelIndex, &level.Price,
			&level.Side, &level.Quantity, &level.IdempotencyKey, &state, &level.LastError, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: 解析网格档位失败: %w", err)
		}
		level.State = LevelState(state)
		level.UpdatedAt = parseTime(updatedAt)
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历网格档位失败: %w", err)
	}

	return levels, nil
}

// UpsertOrder 以幂等键写入订单。首次插入建立完整记录；后续对账
// 只允许更新 exchange_order_id 与成交/状态/费用/盈亏字段。
func (s *Store) UpsertOrder(ctx context.Context, order Order) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(agent, symbol, idempotency_key, exchange_order_id, side, price, quantity,
			 filled_quantity, status, fee, pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			filled_quantity = excluded.filled_quantity,
			status = excluded.status,
			fee = excluded.fee,
			pnl = excluded.pnl,
			updated_at = excluded.updated_at`,
		order.Agent, order.Symbol, order.IdempotencyKey, order.ExchangeOrderID, order.Side,
		order.Price, order.Quantity, order.FilledQuantity, order.Status, order.Fee, order.PnL,
		ts, ts,
	)
	if err != nil {
		return fmt.Errorf("store: 写入订单失败: %w", err)
	}
	return nil
}

// GetOrderByKey 按幂等键查询订单。
func (s *Store) GetOrderByKey(ctx context.Context, idempotencyKey string) (Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent, symbol, idempotency_key, COALESCE(exchange_order_id, ''), side,
		       price, quantity, filled_quantity, status, fee, pnl, created_at, updated_at
		FROM orders WHERE idempotency_key = ?`, idempotencyKey)
	return scanOrder(row)
}

func scanOrder(row *sql.Row) (Order, error) {
	var (
		order                Order
		createdAt, updatedAt string
	)
	err := row.Scan(&order.ID, &order.Agent, &order.Symbol, &order.IdempotencyKey,
		&order.ExchangeOrderID, &order.Side, &order.Price, &order.Quantity,
		&order.FilledQuantity, &order.Status, &order.Fee, &order.PnL, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return order, ErrNotFound
	}
	if err != nil {
		return order, fmt.Errorf("store: 查询订单失败: %w", err)
	}
	order.CreatedAt = parseTime(createdAt)
	order.UpdatedAt = parseTime(updatedAt)
	return order, nil
}

// GetOrders 按代理/交易对过滤查询订单，空串表示不过滤。
func (s *Store) GetOrders(ctx context.Context, agent, symbol string) ([]Order, error) {
	query := `
		SELECT id, agent, symbol, idempotency_key, COALESCE(exchange_order_id, ''), side,
		       price, quantity, filled_quantity, status, fee, pnl, created_at, updated_at
		FROM orders WHERE 1=1`
	args := make([]interface{}, 0, 2)
	if agent != "" {
		query += " AND agent = ?"
		args = append(args, agent)
	}
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY created_at DESC LIMIT 1000"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询订单列表失败: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var (
			order                Order
			createdAt, updatedAt string
		)
		if err := rows.Scan(&order.ID, &order.Agent, &order.Symbol, &order.IdempotencyKey,
			&order.ExchangeOrderID, &order.Side, &order.Price, &order.Quantity,
			&order.FilledQuantity, &order.Status, &order.Fee, &order.PnL, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: 解析订单失败: %w", err)
		}
		order.CreatedAt = parseTime(createdAt)
		order.UpdatedAt = parseTime(updatedAt)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历订单失败: %w", err)
	}

	return orders, nil
}

// DailyRealizedPnL 汇总代理在 day 所属 UTC 日历日内创建订单的已实现盈亏。
// 使用显式日期区间过滤，没有订单时返回 0。
func (s *Store) DailyRealizedPnL(ctx context.Context, agent string, day time.Time) (float64, error) {
	utc := day.UTC()
	start := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl), 0) FROM orders
		WHERE agent = ? AND created_at >= ? AND created_at < ?`,
		agent, start.Format(time.RFC3339), end.Format(time.RFC3339))

	var pnl float64
	if err := row.Scan(&pnl); err != nil {
		return 0, fmt.Errorf("store: 统计当日已实现盈亏失败: %w", err)
	}
	return pnl, nil
}

// InitAccount 初始化代理账户，已存在时不做任何变更。
func (s *Store) InitAccount(ctx context.Context, agent string, initialBalance float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_accounts (agent, initial_balance, current_balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent) DO NOTHING`,
		agent, initialBalance, initialBalance, now())
	if err != nil {
		return fmt.Errorf("store: 初始化代理账户失败: %w", err)
	}
	return nil
}

// GetAccount 查询代理账户。
func (s *Store) GetAccount(ctx context.Context, agent string) (AgentAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent, initial_balance, current_balance, total_pnl, total_trades,
		       winning_trades, losing_trades, max_drawdown, updated_at
		FROM agent_accounts WHERE agent = ?`, agent)

	var (
		account   AgentAccount
		updatedAt string
	)
	err := row.Scan(&account.Agent, &account.InitialBalance, &account.CurrentBalance,
		&account.TotalPnL, &account.TotalTrades, &account.WinningTrades,
		&account.LosingTrades, &account.MaxDrawdown, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account, ErrNotFound
	}
	if err != nil {
		return account, fmt.Errorf("store: 查询代理账户失败: %w", err)
	}
	account.UpdatedAt = parseTime(updatedAt)
	return account, nil
}

// ListAccounts 按累计盈亏降序返回全部代理账户（竞赛排行榜）。
func (s *Store) ListAccounts(ctx context.Context) ([]AgentAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, initial_balance, current_balance, total_pnl, total_trades,
		       winning_trades, losing_trades, max_drawdown, updated_at
		FROM agent_accounts ORDER BY total_pnl DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: 查询账户列表失败: %w", err)
	}
	defer rows.Close()

	var accounts []AgentAccount
	for rows.Next() {
		var (
			account   AgentAccount
			updatedAt string
		)
		if err := rows.Scan(&account.Agent, &account.InitialBalance, &account.CurrentBalance,
			&account.TotalPnL, &account.TotalTrades, &account.WinningTrades,
			&account.LosingTrades, &account.MaxDrawdown, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: 解析账户失败: %w", err)
		}
		account.UpdatedAt = parseTime(updatedAt)
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历账户失败: %w", err)
	}

	return accounts, nil
}

// UpdateAccountBalance 同步代理账户余额与累计盈亏。
func (s *Store) UpdateAccountBalance(ctx context.Context, agent string, balance, totalPnL float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_accounts SET current_balance = ?, total_pnl = ?, updated_at = ?
		WHERE agent = ?`,
		balance, totalPnL, now(), agent)
	if err != nil {
		return fmt.Errorf("store: 更新账户余额失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: 读取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordTradeResult 在成交确认后累计交易统计与最大回撤。
func (s *Store) RecordTradeResult(ctx context.Context, agent string, pnl, drawdown float64) error {
	win, loss := 0, 0
	if pnl > 0 {
		win = 1
	} else if pnl < 0 {
		loss = 1
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_accounts SET
			total_trades = total_trades + 1,
			winning_trades = winning_trades + ?,
			losing_trades = losing_trades + ?,
			max_drawdown = MAX(max_drawdown, ?),
			updated_at = ?
		WHERE agent = ?`,
		win, loss, drawdown, now(), agent)
	if err != nil {
		return fmt.Errorf("store: 更新交易统计失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: 读取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPosition 写入/覆盖 (agent, symbol) 持仓。
func (s *Store) UpsertPosition(ctx context.Context, pos Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(agent, symbol, side, size, entry_price, current_price, unrealized_pnl, leverage, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent, symbol) DO UPDATE SET
			side = excluded.side,
			size = excluded.size,
			entry_price = excluded.entry_price,
			current_price = excluded.current_price,
			unrealized_pnl = excluded.unrealized_pnl,
			leverage = excluded.leverage,
			updated_at = excluded.updated_at`,
		pos.Agent, pos.Symbol, pos.Side, pos.Size, pos.EntryPrice,
		pos.CurrentPrice, pos.UnrealizedPnL, pos.Leverage, now())
	if err != nil {
		return fmt.Errorf("store: 写入持仓失败: %w", err)
	}
	return nil
}

// GetPosition 查询 (agent, symbol) 持仓。
func (s *Store) GetPosition(ctx context.Context, agent, symbol string) (Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent, symbol, side, size, entry_price, current_price, unrealized_pnl, leverage, updated_at
		FROM positions WHERE agent = ? AND symbol = ?`, agent, symbol)

	var (
		pos       Position
		updatedAt string
	)
	err := row.Scan(&pos.Agent, &pos.Symbol, &pos.Side, &pos.Size, &pos.EntryPrice,
		&pos.CurrentPrice, &pos.UnrealizedPnL, &pos.Leverage, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pos, ErrNotFound
	}
	if err != nil {
		return pos, fmt.Errorf("store: 查询持仓失败: %w", err)
	}
	pos.UpdatedAt = parseTime(updatedAt)
	return pos, nil
}

// RemovePosition 在全平后删除持仓行。
func (s *Store) RemovePosition(ctx context.Context, agent, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM positions WHERE agent = ? AND symbol = ?`, agent, symbol)
	if err != nil {
		return fmt.Errorf("store: 删除持仓失败: %w", err)
	}
	return nil
}

// InsertPrice 记录一条行情价格。
func (s *Store) InsertPrice(ctx context.Context, point PricePoint) error {
	ts := point.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (symbol, price, volume, ts) VALUES (?, ?, ?, ?)`,
		point.Symbol, point.Price, point.Volume, ts.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: 写入价格记录失败: %w", err)
	}
	return nil
}

// GetLatestPrice 返回交易对最近一次记录的价格。
func (s *Store) GetLatestPrice(ctx context.Context, symbol string) (PricePoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, price, volume, ts FROM price_history
		WHERE symbol = ? ORDER BY ts DESC LIMIT 1`, symbol)

	var (
		point PricePoint
		ts    string
	)
	err := row.Scan(&point.Symbol, &point.Price, &point.Volume, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return point, ErrNotFound
	}
	if err != nil {
		return point, fmt.Errorf("store: 查询最新价格失败: %w", err)
	}
	point.Timestamp = parseTime(ts)
	return point, nil
}

// InsertDecision 在执行前落库一条决策审计记录，返回记录 ID。
func (s *Store) InsertDecision(ctx context.Context, record DecisionRecord) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_decisions (agent, symbol, action, reasoning, confidence, payload, executed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		record.Agent, record.Symbol, record.Action, record.Reasoning,
		record.Confidence, record.Payload, now())
	if err != nil {
		return 0, fmt.Errorf("store: 写入决策记录失败: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: 读取决策记录 ID 失败: %w", err)
	}
	return id, nil
}

// MarkDecisionExecuted 将决策记录标记为已执行。
func (s *Store) MarkDecisionExecuted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_decisions SET executed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: 标记决策已执行失败: %w", err)
	}
	return nil
}
