package ai

import (
	"strings"
	"testing"
)

func validDecision() Decision {
	return Decision{
		Action:     ActionBuy,
		SizeUSD:    120,
		Leverage:   5,
		Reasoning:  "多周期共振向上",
		Confidence: 0.7,
	}
}

func TestValidate_AcceptsWellFormedDecision(t *testing.T) {
	if err := validDecision().Validate(); err != nil {
		t.Fatalf("valid decision rejected: %v", err)
	}
}

func TestValidate_HoldWithoutReasoning(t *testing.T) {
	d := Decision{Action: "hold"}
	if err := d.Validate(); err != nil {
		t.Fatalf("hold should not require reasoning, got %v", err)
	}
}

func TestValidate_RejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Decision)
	}{
		{"empty action", func(d *Decision) { d.Action = "  " }},
		{"unknown action", func(d *Decision) { d.Action = "LIQUIDATE" }},
		{"negative size", func(d *Decision) { d.SizeUSD = -1 }},
		{"negative leverage", func(d *Decision) { d.Leverage = -2 }},
		{"close percent above 100", func(d *Decision) { d.ClosePercent = 150 }},
		{"negative close percent", func(d *Decision) { d.ClosePercent = -5 }},
		{"confidence above 1", func(d *Decision) { d.Confidence = 1.5 }},
		{"trade without reasoning", func(d *Decision) { d.Reasoning = " " }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDecision()
			tc.mutate(&d)
			if err := d.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestValidate_NormalizesCaseBeforeChecking(t *testing.T) {
	d := validDecision()
	d.Action = " buy "
	if err := d.Validate(); err != nil {
		t.Fatalf("lowercase action with whitespace should validate, got %v", err)
	}
}

func TestNormalized_UppercasesAndTrims(t *testing.T) {
	d := Decision{Action: "  close "}
	if got := d.Normalized().Action; got != ActionClose {
		t.Fatalf("expected %s, got %s", ActionClose, got)
	}
}

func TestParseDecision_PlainJSON(t *testing.T) {
	content := `{"action":"BUY","size_usd":150,"leverage":5,"reasoning":"突破","confidence":0.8}`

	decision, err := parseDecision(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != ActionBuy || decision.SizeUSD != 150 || decision.Leverage != 5 {
		t.Errorf("unexpected decision: %+v", decision)
	}
}

func TestParseDecision_JSONWrappedInProse(t *testing.T) {
	content := "根据当前市场分析，我的决策如下：\n```json\n" +
		`{"action":"SELL","size_usd":80,"leverage":3,"reasoning":"高位滞涨","confidence":0.6}` +
		"\n```\n以上。"

	decision, err := parseDecision(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != ActionSell {
		t.Errorf("expected SELL, got %s", decision.Action)
	}
	if decision.Reasoning != "高位滞涨" {
		t.Errorf("unexpected reasoning: %s", decision.Reasoning)
	}
}

func TestParseDecision_NoJSONPayload(t *testing.T) {
	if _, err := parseDecision("市场观望，暂不操作。"); err == nil {
		t.Fatalf("expected error for content without JSON")
	}
}

func TestParseDecision_MalformedJSON(t *testing.T) {
	_, err := parseDecision(`{"action":"BUY","size_usd":}`)
	if err == nil {
		t.Fatalf("expected unmarshal error")
	}
	if !strings.Contains(err.Error(), "解析决策JSON失败") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExtractJSON_BraceScan(t *testing.T) {
	payload, err := extractJSON(`noise {"a":{"b":1}} trailing`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"a":{"b":1}}` {
		t.Errorf("unexpected payload: %s", payload)
	}
}

func TestExtractJSON_ReversedBraces(t *testing.T) {
	if _, err := extractJSON("} nothing here {"); err == nil {
		t.Fatalf("expected error when braces are reversed")
	}
}
