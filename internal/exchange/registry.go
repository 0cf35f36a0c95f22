package exchange

import (
	"go.uber.org/zap"

	"arena-trader/internal/config"
)

// Registry 按代理名称路由到绑定其凭证的网关客户端。
// 映射完全由配置驱动；凭证缺失或不完整的代理退回默认客户端。
type Registry struct {
	defaultClient *Client
	byAgent       map[string]*Client
}

// NewRegistry 基于配置构建全部客户端，精度缓存在所有客户端间共享。
func NewRegistry(cfg config.AsterConfig, agents []config.AgentConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	precision := newPrecisionCache()
	defaultClient := NewClient(cfg, Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret}, precision, logger)

	byAgent := make(map[string]*Client, len(agents))
	for _, agent := range agents {
		creds := Credentials{APIKey: agent.APIKey, APISecret: agent.APISecret}
		if !creds.Complete() {
			logger.Info("代理未配置独立凭证，使用默认凭证", zap.String("agent", agent.Name))
			continue
		}
		byAgent[agent.Name] = NewClient(cfg, creds, precision, logger.With(zap.String("agent", agent.Name)))
	}

	return &Registry{
		defaultClient: defaultClient,
		byAgent:       byAgent,
	}
}

// ForAgent 返回代理专属客户端，未配置时返回默认客户端。
func (r *Registry) ForAgent(agent string) *Client {
	if client, ok := r.byAgent[agent]; ok {
		return client
	}
	return r.defaultClient
}
