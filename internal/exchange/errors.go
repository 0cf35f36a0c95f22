package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound 表示按幂等键/订单号查询时交易所没有对应订单。
	ErrOrderNotFound = errors.New("exchange: order not found")
)

// APIError 携带交易所返回的 HTTP 状态码与业务错误信息，
// 是瞬时/致命错误分类的依据。
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange: http %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange: http %d: %s", e.StatusCode, e.Message)
}

// IsTransient 判断错误是否为服务端瞬时故障（5xx 或网络层失败）。
// 这一类失败后订单状态不可知，必须走按幂等键对账的流程。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var transportErr *transportError
	return errors.As(err, &transportErr)
}

// IsFatal 判断错误是否为客户端错误（4xx），这类请求不应重试也不应对账。
func IsFatal(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// transportError 表示请求未取得任何 HTTP 响应，订单是否落地不可知，
// 处理上与 5xx 等同。
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("exchange: transport failure: %v", e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}
