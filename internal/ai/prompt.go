package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"arena-trader/internal/feature"
)

const decisionTemplate = `
你是一个参加多代理合约交易竞赛的专业量化交易员。根据提供的市场数据特征，在严格的资金约束下给出下一步操作。

当前市场数据：
{{ .FeaturesJSON }}

当前持仓状况：
- 持仓方向: {{ .Position.Side }}
- 仓位大小: {{ printf "%.4f" .Position.Size }}
- 入场价格: {{ .Position.EntryPrice }}
- 未实现盈亏: {{ printf "%.2f" .Position.UnrealizedPnL }}
- 可用余额: {{ printf "%.2f" .Position.AvailableBalance }}

制定决策时请遵循：
1. 先判断趋势与动量，确认是否存在高胜率方向；
2. 结合持仓健康度决定是观望、开仓还是平仓；
3. 开仓金额不要超过可用资金的 20%；
4. 不确定时选择 HOLD。

请严格输出唯一的 JSON 对象，格式如下：
{
  "action": "BUY|SELL|CLOSE|HOLD",       // BUY/SELL: 开仓方向, CLOSE: 平仓, HOLD: 观望
  "size_usd": 0.0,                        // 开仓保证金金额（美元），HOLD/CLOSE 填 0
  "leverage": 5,                          // 期望杠杆，开仓时填写，范围 3-10
  "close_percent": 0.0,                   // 平仓比例（20-100），仅 CLOSE 时有效
  "reasoning": "...",                    // 支撑结论的关键理由
  "confidence": 0.0-1.0                   // 决策信心度
}

注意事项：
- 所有字段均需填写；
- action=HOLD 时其余数值字段填 0 即可。
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

// PositionContext 为提示词中的持仓上下文。
type PositionContext struct {
	Side             string
	Size             float64
	EntryPrice       float64
	UnrealizedPnL    float64
	AvailableBalance float64
}

type promptContext struct {
	Position     PositionContext
	FeaturesJSON string
}

// BuildPrompt 将特征与持仓信息渲染成提示词字符串。
func BuildPrompt(snapshot feature.Snapshot, pos PositionContext) (string, error) {
	featuresJSONBytes, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化特征失败: %w", err)
	}

	if pos.Side == "" {
		pos.Side = "FLAT"
	}

	ctx := promptContext{
		Position:     pos,
		FeaturesJSON: string(featuresJSONBytes),
	}

	var buf bytes.Buffer
	if err = tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
