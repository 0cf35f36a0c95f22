package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"arena-trader/internal/config"
)

// Credentials 为单个代理的 API 密钥对。
type Credentials struct {
	APIKey    string
	APISecret string
}

// Complete 判断密钥对是否完整可用。
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Client 是 Aster 合约接口的签名 HTTP 客户端。
// 一个 Client 绑定一套凭证；多代理场景由 Registry 按代理路由。
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     *zap.Logger
	mockMode   bool
	precision  *precisionCache
	clock      func() time.Time
}

// NewClient 创建网关客户端。precision 缓存可跨多个 Client 共享。
func NewClient(cfg config.AsterConfig, creds Credentials, precision *precisionCache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if precision == nil {
		precision = newPrecisionCache()
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		mockMode:   cfg.MockMode,
		precision:  precision,
		clock:      func() time.Time { return time.Now().UTC() },
	}

	if c.mockMode {
		logger.Info("网关处于模拟模式，所有请求返回合成数据")
	}

	return c
}

// params 维护插入顺序的请求参数，签名依赖参数拼接顺序稳定。
type params struct {
	keys   []string
	values map[string]string
}

func newParams() *params {
	return &params{values: make(map[string]string)}
}

func (p *params) Add(key, value string) *params {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Encode 按插入顺序拼接 k=v 规范串。
func (p *params) Encode() string {
	var sb strings.Builder
	for i, key := range p.keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(p.values[key])
	}
	return sb.String()
}

func (c *Client) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// do 发送请求并按 HTTP 状态码分类失败：
// 5xx 与传输失败归为瞬时（订单状态不可知），4xx 归为致命。
func (c *Client) do(ctx context.Context, method, endpoint string, p *params, signed bool) ([]byte, error) {
	if p == nil {
		p = newParams()
	}

	if signed {
		p.Add("timestamp", strconv.FormatInt(c.clock().UnixMilli(), 10))
		p.Add("signature", c.sign(p.Encode()))
	}

	var (
		req *http.Request
		err error
	)
	query := p.Encode()
	url := c.baseURL + endpoint

	switch method {
	case http.MethodGet, http.MethodDelete:
		if query != "" {
			url += "?" + query
		}
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, url, strings.NewReader(query))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, fmt.Errorf("exchange: 不支持的请求方法 %s", method)
	}
	if err != nil {
		return nil, fmt.Errorf("exchange: 构造请求失败: %w", err)
	}

	if c.creds.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if unmarshalErr := json.Unmarshal(body, &payload); unmarshalErr == nil && payload.Msg != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Msg
		}
		c.logger.Warn("交易所返回错误",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return nil, apiErr
	}

	return body, nil
}

// SymbolPrecision 获取交易对精度，进程生命周期内缓存；
// 查询失败时退回保守缺省精度而不是让调用失败。
func (c *Client) SymbolPrecision(ctx context.Context, symbol string) SymbolPrecision {
	return c.precision.Get(ctx, symbol, c.fetchPrecision)
}

func (c *Client) fetchPrecision(ctx context.Context, symbol string) (SymbolPrecision, error) {
	p := newParams().Add("symbol", symbol)
	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", p, false)
	if err != nil {
		return SymbolPrecision{}, err
	}

	var payload struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision *int   `json:"quantityPrecision"`
			PricePrecision    *int   `json:"pricePrecision"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return SymbolPrecision{}, fmt.Errorf("exchange: 解析交易规则失败: %w", err)
	}

	for _, info := range payload.Symbols {
		if info.Symbol != symbol {
			continue
		}
		result := defaultPrecision
		if info.QuantityPrecision != nil {
			result.Quantity = *info.QuantityPrecision
		}
		if info.PricePrecision != nil {
			result.Price = *info.PricePrecision
		}
		return result, nil
	}

	return SymbolPrecision{}, fmt.Errorf("exchange: 交易规则中缺少 %s", symbol)
}

func formatDecimal(value float64, precision int) string {
	return strconv.FormatFloat(value, 'f', precision, 64)
}

// PlaceOrder 下单。当失败被分类为瞬时（5xx/传输中断）时，不直接上抛，
// 而是按幂等键回查交易所：
//   - 查到订单 → 原请求已在服务端生效，返回该订单；
//   - 未查到  → 上抛原失败，表示重试是安全的。
//
// 4xx 属于请求本身非法，既不回查也不重试。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if c.mockMode {
		return c.mockPlaceOrder(req), nil
	}

	precision := c.SymbolPrecision(ctx, req.Symbol)

	p := newParams().
		Add("symbol", req.Symbol).
		Add("side", string(req.Side)).
		Add("type", req.Type).
		Add("quantity", formatDecimal(req.Quantity, precision.Quantity))

	if req.Type != "MARKET" {
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		p.Add("timeInForce", tif)
	}
	if req.Price > 0 {
		p.Add("price", formatDecimal(req.Price, precision.Price))
	}
	if req.ClientOrderID != "" {
		p.Add("newClientOrderId", req.ClientOrderID)
	}
	if req.ReduceOnly {
		p.Add("reduceOnly", "true")
	}

	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/order", p, true)
	if err == nil {
		order, parseErr := parseOrder(body)
		if parseErr != nil {
			return Order{}, parseErr
		}
		c.logger.Info("下单成功",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("client_order_id", req.ClientOrderID),
			zap.String("exchange_order_id", order.ExchangeOrderID),
		)
		return order, nil
	}

	if !IsTransient(err) || req.ClientOrderID == "" {
		return Order{}, err
	}

	c.logger.Warn("下单请求失败且状态不可知，按幂等键回查",
		zap.String("symbol", req.Symbol),
		zap.String("client_order_id", req.ClientOrderID),
		zap.Error(err),
	)

	existing, queryErr := c.QueryOrderByClientID(ctx, req.Symbol, req.ClientOrderID)
	if queryErr == nil {
		c.logger.Info("回查确认订单已在服务端生效",
			zap.String("client_order_id", req.ClientOrderID),
			zap.String("exchange_order_id", existing.ExchangeOrderID),
		)
		return existing, nil
	}
	if !errors.Is(queryErr, ErrOrderNotFound) {
		c.logger.Warn("回查订单失败", zap.String("client_order_id", req.ClientOrderID), zap.Error(queryErr))
	}

	return Order{}, err
}

// QueryOrderByClientID 按幂等键查询订单，不存在时返回 ErrOrderNotFound。
func (c *Client) QueryOrderByClientID(ctx context.Context, symbol, clientOrderID string) (Order, error) {
	if c.mockMode {
		return Order{}, ErrOrderNotFound
	}

	p := newParams().
		Add("symbol", symbol).
		Add("origClientOrderId", clientOrderID)

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/order", p, true)
	if err != nil {
		var apiErr *APIError
		// 交易所对不存在的订单返回 400 + code -2013。
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 404 || apiErr.Code == -2013) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}

	return parseOrder(body)
}

// QueryOrder 按交易所订单号查询订单。
func (c *Client) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (Order, error) {
	p := newParams().
		Add("symbol", symbol).
		Add("orderId", exchangeOrderID)

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/order", p, true)
	if err != nil {
		return Order{}, err
	}
	return parseOrder(body)
}

// CancelOrder 按交易所订单号或幂等键撤单。
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (Order, error) {
	if c.mockMode {
		return c.mockCancelOrder(symbol, exchangeOrderID, clientOrderID), nil
	}

	p := newParams().Add("symbol", symbol)
	switch {
	case exchangeOrderID != "":
		p.Add("orderId", exchangeOrderID)
	case clientOrderID != "":
		p.Add("origClientOrderId", clientOrderID)
	default:
		return Order{}, fmt.Errorf("exchange: 撤单需要 orderId 或 clientOrderId")
	}

	body, err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", p, true)
	if err != nil {
		return Order{}, err
	}
	return parseOrder(body)
}

// GetAccount 查询账户权益概览。
func (c *Client) GetAccount(ctx context.Context) (AccountInfo, error) {
	if c.mockMode {
		return c.mockAccount(), nil
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/account", newParams(), true)
	if err != nil {
		return AccountInfo{}, err
	}

	var payload struct {
		AvailableBalance           string `json:"availableBalance"`
		TotalPositionInitialMargin string `json:"totalPositionInitialMargin"`
		TotalUnrealizedProfit      string `json:"totalUnrealizedProfit"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return AccountInfo{}, fmt.Errorf("exchange: 解析账户信息失败: %w", err)
	}

	return AccountInfo{
		AvailableBalance:      parseFloat(payload.AvailableBalance),
		TotalPositionMargin:   parseFloat(payload.TotalPositionInitialMargin),
		TotalUnrealizedProfit: parseFloat(payload.TotalUnrealizedProfit),
		Source:                SourceLive,
	}, nil
}

// GetPositions 查询持仓风险快照，symbol 为空时返回全部。
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error) {
	if c.mockMode {
		return c.mockPositions(symbol), nil
	}

	p := newParams()
	if symbol != "" {
		p.Add("symbol", symbol)
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", p, true)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("exchange: 解析持仓信息失败: %w", err)
	}

	positions := make([]PositionRisk, 0, len(payload))
	for _, item := range payload {
		positions = append(positions, PositionRisk{
			Symbol:        item.Symbol,
			PositionAmt:   parseFloat(item.PositionAmt),
			EntryPrice:    parseFloat(item.EntryPrice),
			MarkPrice:     parseFloat(item.MarkPrice),
			UnrealizedPnL: parseFloat(item.UnRealizedProfit),
			Leverage:      int(parseFloat(item.Leverage)),
			Source:        SourceLive,
		})
	}

	return positions, nil
}

// GetDepth 查询订单簿深度。
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) (Depth, error) {
	if limit <= 0 {
		limit = 20
	}
	p := newParams().
		Add("symbol", symbol).
		Add("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/depth", p, false)
	if err != nil {
		return Depth{}, err
	}

	var payload struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Depth{}, fmt.Errorf("exchange: 解析盘口深度失败: %w", err)
	}

	depth := Depth{Symbol: symbol}
	for _, level := range payload.Bids {
		if len(level) < 2 {
			continue
		}
		depth.Bids = append(depth.Bids, DepthLevel{Price: parseFloat(level[0]), Amount: parseFloat(level[1])})
	}
	for _, level := range payload.Asks {
		if len(level) < 2 {
			continue
		}
		depth.Asks = append(depth.Asks, DepthLevel{Price: parseFloat(level[0]), Amount: parseFloat(level[1])})
	}

	return depth, nil
}

// ChangeLeverage 调整交易对杠杆。
func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	if c.mockMode {
		return nil
	}

	p := newParams().
		Add("symbol", symbol).
		Add("leverage", strconv.Itoa(leverage))

	if _, err := c.do(ctx, http.MethodPost, "/fapi/v1/leverage", p, true); err != nil {
		return err
	}
	return nil
}

func parseOrder(body []byte) (Order, error) {
	var payload struct {
		OrderID       json.Number `json:"orderId"`
		ClientOrderID string      `json:"clientOrderId"`
		Symbol        string      `json:"symbol"`
		Side          string      `json:"side"`
		Type          string      `json:"type"`
		Price         string      `json:"price"`
		OrigQty       string      `json:"origQty"`
		ExecutedQty   string      `json:"executedQty"`
		AvgPrice      string      `json:"avgPrice"`
		Status        string      `json:"status"`
		UpdateTime    int64       `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Order{}, fmt.Errorf("exchange: 解析订单响应失败: %w", err)
	}

	return Order{
		ExchangeOrderID: payload.OrderID.String(),
		ClientOrderID:   payload.ClientOrderID,
		Symbol:          payload.Symbol,
		Side:            Side(payload.Side),
		Type:            payload.Type,
		Price:           parseFloat(payload.Price),
		Quantity:        parseFloat(payload.OrigQty),
		ExecutedQty:     parseFloat(payload.ExecutedQty),
		AvgPrice:        parseFloat(payload.AvgPrice),
		Status:          payload.Status,
		UpdateTime:      time.UnixMilli(payload.UpdateTime).UTC(),
		Source:          SourceLive,
	}, nil
}

func parseFloat(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}
