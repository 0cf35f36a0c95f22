package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "arena"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyAgentDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("aster.base_url", "https://fapi.asterdex.com")
	v.SetDefault("aster.timeout", "30s")
	v.SetDefault("aster.mock_mode", false)

	v.SetDefault("market.exchange", "binanceusdm")
	v.SetDefault("market.symbols", []string{"BTC/USDT:USDT"})
	v.SetDefault("market.retry.max_attempts", 5)
	v.SetDefault("market.retry.min_delay", "500ms")
	v.SetDefault("market.retry.max_delay", "5s")

	v.SetDefault("risk.max_leverage", 2)
	v.SetDefault("risk.max_symbol_exposure", 5000.0)
	v.SetDefault("risk.max_daily_loss", -100.0)

	v.SetDefault("execution.balance_floor", 100.0)
	v.SetDefault("execution.equity_ceiling", 400.0)
	v.SetDefault("execution.min_order_usd", 50.0)
	v.SetDefault("execution.max_equity_fraction", 0.2)
	v.SetDefault("execution.min_leverage", 3)
	v.SetDefault("execution.max_leverage", 10)
	v.SetDefault("execution.min_close_percent", 20.0)

	v.SetDefault("database.path", "data/arena_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "1m")
	v.SetDefault("scheduler.decision_interval", "15m")
	v.SetDefault("scheduler.sync_interval", "2m")

	v.SetDefault("monitor.port", 8080)
}

// applyAgentDefaults 为缺省的代理级配置回填全局默认值。
func applyAgentDefaults(cfg *Config) {
	for i := range cfg.Agents {
		agent := &cfg.Agents[i]
		if agent.LLM.Timeout <= 0 {
			agent.LLM.Timeout = 60 * time.Second
		}
		if agent.LLM.BaseURL == "" {
			agent.LLM.BaseURL = "https://api.openai.com/v1"
		}
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
