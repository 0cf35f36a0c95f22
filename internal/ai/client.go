package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"arena-trader/internal/config"
	"arena-trader/internal/feature"
)

// Client 封装单个代理的大模型调用逻辑（OpenAI 兼容接口）。
type Client struct {
	agent  string
	cfg    config.LLMConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(agent string, cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("代理 %s 的 llm.api_key 不能为空", agent)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("代理 %s 的 llm.model 不能为空", agent)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &Client{
		agent:  agent,
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
	}, nil
}

// Agent 返回绑定的代理名称。
func (c *Client) Agent() string {
	return c.agent
}

// GenerateDecision 根据市场特征与当前持仓获取模型决策。
func (c *Client) GenerateDecision(ctx context.Context, snapshot feature.Snapshot, pos PositionContext) (Decision, error) {
	prompt, err := BuildPrompt(snapshot, pos)
	if err != nil {
		return Decision{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用大模型失败", zap.String("agent", c.agent), zap.Error(err))
		return Decision{}, fmt.Errorf("调用大模型失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Decision{}, errors.New("模型返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Decision{}, errors.New("模型返回内容为空")
	}

	decision, err := parseDecision(rawContent)
	if err != nil {
		c.logger.Error("解析模型决策失败",
			zap.String("agent", c.agent),
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Decision{}, err
	}

	decision = decision.Normalized()
	if err := decision.Validate(); err != nil {
		return Decision{}, err
	}

	c.logger.Info("AI 决策生成成功",
		zap.String("agent", c.agent),
		zap.String("action", decision.Action),
		zap.Float64("size_usd", decision.SizeUSD),
		zap.Float64("confidence", decision.Confidence),
	)

	return decision, nil
}

func parseDecision(content string) (Decision, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	if err = json.Unmarshal(jsonPayload, &decision); err != nil {
		return Decision{}, fmt.Errorf("解析决策JSON失败: %w", err)
	}

	return decision, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
