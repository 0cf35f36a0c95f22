package market

import "testing"

func TestNativeSymbol(t *testing.T) {
	cases := []struct {
		unified string
		want    string
	}{
		{"SOL/USDT:USDT", "SOLUSDT"},
		{"BTC/USDT:USDT", "BTCUSDT"},
		{"ETH/USDT", "ETHUSDT"},
		{"SOLUSDT", "SOLUSDT"},
	}

	for _, tc := range cases {
		if got := NativeSymbol(tc.unified); got != tc.want {
			t.Errorf("NativeSymbol(%q) = %q, want %q", tc.unified, got, tc.want)
		}
	}
}
