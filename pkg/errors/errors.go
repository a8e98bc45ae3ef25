package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	// 通用错误码
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"

	// 数据库错误码
	CodeDBTransient ErrorCode = "DB_TRANSIENT"
	CodeDBFatal     ErrorCode = "DB_FATAL"

	// 传输层错误码
	CodeTransportTransient ErrorCode = "TRANSPORT_TRANSIENT"
	CodeTransportFatal     ErrorCode = "TRANSPORT_FATAL"
	CodeDecryptionFailure  ErrorCode = "DECRYPTION_FAILURE"
	CodeSessionConflict    ErrorCode = "SESSION_CONFLICT"

	// LLM 网关错误码
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeOverloaded        ErrorCode = "OVERLOADED"
	CodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"
	CodeAllKeysExhausted  ErrorCode = "ALL_KEYS_EXHAUSTED"
	CodeTimeoutExceeded   ErrorCode = "TIMEOUT_EXCEEDED"
	CodeParseFailure      ErrorCode = "PARSE_FAILURE"
	CodeToolFailure       ErrorCode = "TOOL_FAILURE"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	// RetryAfter 仅在 Code == CodeRateLimited 时有意义
	RetryAfter time.Duration
	Err        error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建指定错误码的错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 创建带原因的错误
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

// NewRateLimited creates the error returned when a provider answers 429.
// retryAfter carries the provider-suggested cooldown for the key in use.
func NewRateLimited(retryAfter time.Duration, cause error) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "provider rate limited",
		RetryAfter: retryAfter,
		Err:        cause,
	}
}

// NewOverloaded creates the error returned when a provider answers 503.
func NewOverloaded(cause error) *AppError {
	return &AppError{Code: CodeOverloaded, Message: "provider overloaded", Err: cause}
}

// NewInvalidCredential creates the error for permanently rejected API keys.
func NewInvalidCredential(cause error) *AppError {
	return &AppError{Code: CodeInvalidCredential, Message: "credential rejected", Err: cause}
}

// NewAllKeysExhausted is returned when every key in the pool is cooling down
// and the rotation retry budget is spent.
func NewAllKeysExhausted(message string) *AppError {
	return &AppError{Code: CodeAllKeysExhausted, Message: message}
}

// NewSessionConflict 创建会话冲突错误（触发进程退出，由 supervisor 重启）
func NewSessionConflict(message string) *AppError {
	return &AppError{Code: CodeSessionConflict, Message: message}
}

// codeOf 提取错误码，非 AppError 返回空
func codeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is 判断错误是否携带指定错误码
func Is(err error, code ErrorCode) bool {
	return codeOf(err) == code
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}

// IsRateLimited reports whether err is a rate-limit error and returns the
// suggested cooldown (zero when not rate limited).
func IsRateLimited(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == CodeRateLimited {
		return appErr.RetryAfter, true
	}
	return 0, false
}

// IsOverloaded 判断是否为过载错误
func IsOverloaded(err error) bool {
	return Is(err, CodeOverloaded)
}

// IsInvalidCredential 判断是否为凭证无效错误
func IsInvalidCredential(err error) bool {
	return Is(err, CodeInvalidCredential)
}

// IsAllKeysExhausted 判断是否为密钥池耗尽错误
func IsAllKeysExhausted(err error) bool {
	return Is(err, CodeAllKeysExhausted)
}

// IsSessionConflict 判断是否为会话冲突错误
func IsSessionConflict(err error) bool {
	return Is(err, CodeSessionConflict)
}

// RetryAfter returns the suggested delay carried by err, zero when absent.
func RetryAfter(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// IsRequeueable reports whether a failed batch should be re-enqueued with
// delayed visibility rather than consume a retry attempt.
func IsRequeueable(err error) bool {
	switch codeOf(err) {
	case CodeRateLimited, CodeOverloaded, CodeAllKeysExhausted:
		return true
	}
	return false
}
