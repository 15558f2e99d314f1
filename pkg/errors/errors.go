// Package errors 定义统一错误码
package errors

import (
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK               Code = "OK"
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidParam     Code = "INVALID_PARAM"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeInternal         Code = "INTERNAL"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"

	// 订单与撮合
	CodeProductNotFound   Code = "PRODUCT_NOT_FOUND"
	CodeProductNotTrading Code = "PRODUCT_NOT_TRADING"
	CodeInvalidSide       Code = "INVALID_SIDE"
	CodeInvalidPrice      Code = "INVALID_PRICE"
	CodeInvalidQuantity   Code = "INVALID_QUANTITY"
	CodePriceBelowFloor   Code = "PRICE_BELOW_FLOOR"
	CodeOversell          Code = "OVERSELL"
	CodeNoAskLiquidity    Code = "NO_ASK_LIQUIDITY"
	CodeOrderNotFound     Code = "ORDER_NOT_FOUND"
	CodeOrderProcessing   Code = "ORDER_PROCESSING"
	CodeOrderFinalized    Code = "ORDER_FINALIZED"
	CodeCancelConflict    Code = "CANCEL_CONFLICT"

	// 结算与持仓
	CodeDuplicateFill     Code = "DUPLICATE_FILL"
	CodeHoldingNotFound   Code = "HOLDING_NOT_FOUND"
	CodeIssuanceExhausted Code = "ISSUANCE_EXHAUSTED"
	CodeSettleFailure     Code = "SETTLE_FAILURE"

	// 系统
	CodeSystemBusy Code = "SYSTEM_BUSY"
)

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// isRetryable 判断是否可重试
func isRetryable(code Code) bool {
	switch code {
	case CodeCancelConflict, CodeSystemBusy, CodeTimeout, CodeUnavailable:
		return true
	default:
		return false
	}
}

// httpStatus 错误码对应的 HTTP 状态码
func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidRequest, CodeInvalidSide,
		CodeInvalidPrice, CodeInvalidQuantity, CodePriceBelowFloor,
		CodeOversell, CodeNoAskLiquidity:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound, CodeOrderNotFound, CodeProductNotFound, CodeHoldingNotFound:
		return http.StatusNotFound
	case CodeCancelConflict, CodeDuplicateFill, CodeOrderProcessing,
		CodeOrderFinalized, CodeIssuanceExhausted:
		return http.StatusConflict
	case CodeInternal, CodeUnknown, CodeSettleFailure:
		return http.StatusInternalServerError
	case CodeUnavailable, CodeSystemBusy, CodeProductNotTrading:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam     = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound         = New(CodeNotFound, "not found")
	ErrUnauthenticated  = New(CodeUnauthenticated, "unauthenticated")
	ErrPermissionDenied = New(CodePermissionDenied, "permission denied")
	ErrOrderNotFound    = New(CodeOrderNotFound, "order not found")
	ErrProductNotFound  = New(CodeProductNotFound, "product not found")
	ErrSystemBusy       = New(CodeSystemBusy, "system busy, please retry")
)
