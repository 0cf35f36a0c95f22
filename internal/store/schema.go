package store

import "fmt"

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS strategy_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price_lower REAL NOT NULL,
			price_upper REAL NOT NULL,
			level_count INTEGER NOT NULL,
			spacing TEXT NOT NULL,
			base_allocation REAL NOT NULL,
			leverage INTEGER NOT NULL,
			take_profit_pct REAL NOT NULL,
			stop_loss_pct REAL NOT NULL,
			rebalance INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(agent, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS grid_levels (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			config_id INTEGER NOT NULL REFERENCES strategy_configs(id) ON DELETE CASCADE,
			level_index INTEGER NOT NULL,
			price REAL NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			idempotency_key TEXT UNIQUE NOT NULL,
			state TEXT NOT NULL DEFAULT 'planned',
			last_error TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent TEXT NOT NULL,
			symbol TEXT NOT NULL,
			idempotency_key TEXT UNIQUE NOT NULL,
			exchange_order_id TEXT,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			filled_quantity REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			fee REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_agent_symbol ON orders(agent, symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_agent_created ON orders(agent, created_at);`,
		`CREATE TABLE IF NOT EXISTS agent_accounts (
			agent TEXT PRIMARY KEY,
			initial_balance REAL NOT NULL,
			current_balance REAL NOT NULL,
			total_pnl REAL NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			agent TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			entry_price REAL NOT NULL,
			current_price REAL NOT NULL DEFAULT 0,
			unrealized_pnl REAL NOT NULL DEFAULT 0,
			leverage INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (agent, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			price REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0,
			ts TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_symbol_ts ON price_history(symbol, ts DESC);`,
		`CREATE TABLE IF NOT EXISTS agent_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent TEXT NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			reasoning TEXT,
			confidence REAL NOT NULL DEFAULT 0,
			payload TEXT,
			executed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_decisions_agent_created ON agent_decisions(agent, created_at DESC);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化表结构失败: %w", err)
		}
	}

	return nil
}
