package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Aster     AsterConfig     `mapstructure:"aster"`
	Agents    []AgentConfig   `mapstructure:"agents"`
	Market    MarketConfig    `mapstructure:"market"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// AsterConfig 描述 Aster 交易所网关配置，默认凭证供未单独配置的代理使用。
type AsterConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MockMode  bool          `mapstructure:"mock_mode"`
}

// AgentConfig 描述单个交易代理：交易所凭证与大模型接入参数。
// 新增代理只需追加配置，无需改动代码。
type AgentConfig struct {
	Name           string    `mapstructure:"name"`
	APIKey         string    `mapstructure:"api_key"`
	APISecret      string    `mapstructure:"api_secret"`
	InitialBalance float64   `mapstructure:"initial_balance"`
	LLM            LLMConfig `mapstructure:"llm"`
}

// LLMConfig 描述大模型调用参数（OpenAI 兼容接口）。
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketConfig 描述行情数据源配置。
type MarketConfig struct {
	Exchange string      `mapstructure:"exchange"`
	Symbols  []string    `mapstructure:"symbols"`
	Retry    RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RiskConfig 管理风控参数。MaxDailyLoss 为负数阈值，当日已实现盈亏低于该值即触发熔断。
type RiskConfig struct {
	MaxLeverage       int     `mapstructure:"max_leverage"`
	MaxSymbolExposure float64 `mapstructure:"max_symbol_exposure"`
	MaxDailyLoss      float64 `mapstructure:"max_daily_loss"`
}

// ExecutionConfig 控制决策执行时的资金规则。
type ExecutionConfig struct {
	BalanceFloor      float64 `mapstructure:"balance_floor"`
	EquityCeiling     float64 `mapstructure:"equity_ceiling"`
	MinOrderUSD       float64 `mapstructure:"min_order_usd"`
	MaxEquityFraction float64 `mapstructure:"max_equity_fraction"`
	MinLeverage       int     `mapstructure:"min_leverage"`
	MaxLeverage       int     `mapstructure:"max_leverage"`
	MinClosePercent   float64 `mapstructure:"min_close_percent"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval     time.Duration `mapstructure:"loop_interval"`
	DecisionInterval time.Duration `mapstructure:"decision_interval"`
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
}

// MonitorConfig 控制监控/管理接口。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Aster.BaseURL == "" {
		err = multierr.Append(err, errors.New("aster.base_url 不能为空"))
	}
	if c.Aster.Timeout <= 0 {
		err = multierr.Append(err, errors.New("aster.timeout 必须大于0"))
	}
	if !c.Aster.MockMode && (c.Aster.APIKey == "" || c.Aster.APISecret == "") {
		err = multierr.Append(err, errors.New("aster 默认凭证 api_key/api_secret 不能为空"))
	}
	if len(c.Agents) == 0 {
		err = multierr.Append(err, errors.New("agents 至少配置一个代理"))
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i, agent := range c.Agents {
		if agent.Name == "" {
			err = multierr.Append(err, fmt.Errorf("agents[%d].name 不能为空", i))
			continue
		}
		if _, ok := seen[agent.Name]; ok {
			err = multierr.Append(err, fmt.Errorf("agents 中名称 %q 重复", agent.Name))
		}
		seen[agent.Name] = struct{}{}
		if agent.InitialBalance <= 0 {
			err = multierr.Append(err, fmt.Errorf("agents[%s].initial_balance 必须大于0", agent.Name))
		}
		if agent.LLM.Model == "" {
			err = multierr.Append(err, fmt.Errorf("agents[%s].llm.model 不能为空", agent.Name))
		}
	}
	if c.Market.Exchange == "" {
		err = multierr.Append(err, errors.New("market.exchange 不能为空"))
	}
	if len(c.Market.Symbols) == 0 {
		err = multierr.Append(err, errors.New("market.symbols 至少包含一个交易对"))
	}
	if c.Market.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("market.retry.max_attempts 必须大于0"))
	}
	if c.Market.Retry.MinDelay <= 0 || c.Market.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("market.retry.delay 必须为正"))
	}
	if c.Market.Retry.MinDelay > c.Market.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("market.retry.min_delay 不能大于 max_delay"))
	}
	if c.Risk.MaxLeverage <= 0 {
		err = multierr.Append(err, errors.New("risk.max_leverage 必须大于0"))
	}
	if c.Risk.MaxSymbolExposure <= 0 {
		err = multierr.Append(err, errors.New("risk.max_symbol_exposure 必须大于0"))
	}
	if c.Risk.MaxDailyLoss >= 0 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss 应为负数阈值"))
	}
	if c.Execution.BalanceFloor <= 0 {
		err = multierr.Append(err, errors.New("execution.balance_floor 必须大于0"))
	}
	if c.Execution.MinOrderUSD <= 0 {
		err = multierr.Append(err, errors.New("execution.min_order_usd 必须大于0"))
	}
	if c.Execution.EquityCeiling <= c.Execution.MinOrderUSD {
		err = multierr.Append(err, errors.New("execution.equity_ceiling 必须大于 min_order_usd"))
	}
	if c.Execution.MaxEquityFraction <= 0 || c.Execution.MaxEquityFraction > 1 {
		err = multierr.Append(err, errors.New("execution.max_equity_fraction 必须位于(0,1]"))
	}
	if c.Execution.MinLeverage <= 0 || c.Execution.MaxLeverage < c.Execution.MinLeverage {
		err = multierr.Append(err, errors.New("execution.leverage 区间配置非法"))
	}
	if c.Execution.MinClosePercent <= 0 || c.Execution.MinClosePercent > 100 {
		err = multierr.Append(err, errors.New("execution.min_close_percent 必须位于(0,100]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Scheduler.DecisionInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.decision_interval 必须大于0"))
	}
	if c.Scheduler.SyncInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.sync_interval 必须大于0"))
	}
	if c.Scheduler.DecisionInterval < c.Scheduler.LoopInterval {
		err = multierr.Append(err, errors.New("scheduler.decision_interval 不应小于 loop_interval"))
	}
	if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须为合法端口"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// AgentByName 按名称查找代理配置。
func (c *Config) AgentByName(name string) (AgentConfig, bool) {
	for _, agent := range c.Agents {
		if agent.Name == name {
			return agent, true
		}
	}
	return AgentConfig{}, false
}
