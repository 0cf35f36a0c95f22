package exchange

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// 模拟模式返回确定性的合成数据：同样的输入总是产生同样的响应，
// 并以 Source=mock 标记以便测试与运维辨认执行路径。

func mockExchangeOrderID(clientOrderID string) string {
	sum := sha256.Sum256([]byte("mock-order:" + clientOrderID))
	return hex.EncodeToString(sum[:])[:8]
}

func (c *Client) mockPlaceOrder(req OrderRequest) Order {
	c.logger.Info("模拟模式：返回合成下单响应")
	return Order{
		ExchangeOrderID: mockExchangeOrderID(req.ClientOrderID),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Price:           req.Price,
		Quantity:        req.Quantity,
		ExecutedQty:     0,
		Status:          "NEW",
		UpdateTime:      time.Unix(0, 0).UTC(),
		Source:          SourceMock,
	}
}

func (c *Client) mockCancelOrder(symbol, exchangeOrderID, clientOrderID string) Order {
	if exchangeOrderID == "" {
		exchangeOrderID = mockExchangeOrderID(clientOrderID)
	}
	return Order{
		ExchangeOrderID: exchangeOrderID,
		ClientOrderID:   clientOrderID,
		Symbol:          symbol,
		Status:          "CANCELED",
		UpdateTime:      time.Unix(0, 0).UTC(),
		Source:          SourceMock,
	}
}

func (c *Client) mockAccount() AccountInfo {
	return AccountInfo{
		AvailableBalance:      1000,
		TotalPositionMargin:   0,
		TotalUnrealizedProfit: 0,
		Source:                SourceMock,
	}
}

func (c *Client) mockPositions(symbol string) []PositionRisk {
	if symbol == "" {
		symbol = "SOLUSDT"
	}
	return []PositionRisk{{
		Symbol:    symbol,
		MarkPrice: 200.50,
		Leverage:  2,
		Source:    SourceMock,
	}}
}
