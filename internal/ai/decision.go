package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Action 为决策动作。
const (
	ActionBuy   = "BUY"
	ActionSell  = "SELL"
	ActionClose = "CLOSE"
	ActionHold  = "HOLD"
)

// Decision 表示大模型返回的交易指令。模型输出视为不可信输入，
// 执行前必须经过 Validate 与执行核心的资金规则约束。
type Decision struct {
	Action       string  `json:"action"`
	SizeUSD      float64 `json:"size_usd"`
	Leverage     int     `json:"leverage"`
	ClosePercent float64 `json:"close_percent"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`

	// RecordID 为决策审计记录 ID，由调用方在落库后回填。
	RecordID int64 `json:"-"`
}

var validActions = map[string]struct{}{
	ActionBuy:   {},
	ActionSell:  {},
	ActionClose: {},
	ActionHold:  {},
}

// Validate 校验决策字段合法性。
func (d Decision) Validate() error {
	action := strings.ToUpper(strings.TrimSpace(d.Action))
	if action == "" {
		return errors.New("action 不能为空")
	}
	if _, ok := validActions[action]; !ok {
		return fmt.Errorf("action 字段取值非法: %s", d.Action)
	}

	if d.SizeUSD < 0 {
		return fmt.Errorf("size_usd 不能为负，当前为 %f", d.SizeUSD)
	}
	if d.Leverage < 0 {
		return fmt.Errorf("leverage 不能为负，当前为 %d", d.Leverage)
	}
	if d.ClosePercent < 0 || d.ClosePercent > 100 {
		return fmt.Errorf("close_percent 必须位于 [0,100]，当前为 %f", d.ClosePercent)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", d.Confidence)
	}
	if action != ActionHold && strings.TrimSpace(d.Reasoning) == "" {
		return errors.New("reasoning 不能为空")
	}

	return nil
}

// Normalized 返回动作大写、空白剔除后的副本。
func (d Decision) Normalized() Decision {
	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	return d
}
