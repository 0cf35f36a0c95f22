package ai

import (
	"fmt"

	"go.uber.org/zap"

	"arena-trader/internal/config"
)

// Registry 持有全部代理的大模型客户端。
// 客户端在组合根显式构造并注入，不依赖任何进程级全局状态。
type Registry struct {
	byAgent map[string]*Client
}

// NewRegistry 按配置为每个代理构建客户端。
func NewRegistry(agents []config.AgentConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	byAgent := make(map[string]*Client, len(agents))
	for _, agent := range agents {
		client, err := NewClient(agent.Name, agent.LLM, logger.With(zap.String("agent", agent.Name)))
		if err != nil {
			return nil, fmt.Errorf("初始化代理 %s 的 AI 客户端失败: %w", agent.Name, err)
		}
		byAgent[agent.Name] = client
	}

	return &Registry{byAgent: byAgent}, nil
}

// ForAgent 返回代理的 AI 客户端。
func (r *Registry) ForAgent(agent string) (*Client, error) {
	client, ok := r.byAgent[agent]
	if !ok {
		return nil, fmt.Errorf("未找到代理 %s 的 AI 客户端", agent)
	}
	return client, nil
}
