package apperror

import (
	"errors"
	"fmt"
	"time"
)

// Code 稳定的机器可读错误码
type Code string

const (
	CodeInvalidInput    Code = "invalid_input"
	CodeNotConfigured   Code = "not_configured"
	CodeLimitReached    Code = "limit_reached"
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodePaymentRequired Code = "payment_required"
	CodeRateLimited     Code = "rate_limited"
	CodeServerError     Code = "server_error"
	CodeNetworkError    Code = "network_error"
	CodeAPIError        Code = "api_error"
)

// Error 领域错误，携带错误码和面向用户的消息
type Error struct {
	Code    Code
	Message string

	// Status 上游 HTTP 状态码（仅 api_error 等上游错误）
	Status int

	// RetryAfter 仅 rate_limited 时可能非零
	RetryAfter time.Duration

	// Err 底层错误，可为 nil
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，便于 errors.Is(err, &Error{Code: ...})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// New 创建领域错误
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 创建带底层错误的领域错误
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf 返回错误链中第一个领域错误的错误码，没有则返回空字符串
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf 返回面向用户的错误消息
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// 分析流程中的固定错误
var (
	ErrInvalidProduct = New(CodeInvalidInput, "Invalid product ID.")
	ErrNoAPIKey       = New(CodeNotConfigured, "TaxoAI API key is not configured.")
	ErrLimitReached   = New(CodeLimitReached, "Monthly analysis limit reached.")
	ErrNoProducts     = New(CodeInvalidInput, "No products selected.")
	ErrNoValidProduct = New(CodeInvalidInput, "No valid products found.")
	ErrInvalidJobID   = New(CodeInvalidInput, "Invalid job ID.")
)
