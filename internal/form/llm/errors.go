package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind 上游错误分类
type Kind string

const (
	KindAuth                Kind = "auth"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindRateLimited         Kind = "rate_limited"
	KindModelNotFound       Kind = "model_not_found"
	KindBadRequest          Kind = "bad_request"
	KindUnavailable         Kind = "unavailable"
	KindTimeout             Kind = "timeout"
	KindInvalidResponse     Kind = "invalid_response"
)

var userMessages = map[Kind]string{
	KindAuth:                "Invalid API key. Please check your AI settings.",
	KindInsufficientCredits: "Your AI provider account has insufficient credits.",
	KindRateLimited:         "The AI provider is rate limiting requests. Please wait a moment and try again.",
	KindModelNotFound:       "The selected model is not available. Please choose a different model.",
	KindBadRequest:          "The AI provider rejected the request. Try a shorter prompt or another model.",
	KindUnavailable:         "The AI provider is temporarily unavailable. Please try again later.",
	KindTimeout:             "The AI provider took too long to respond. Please try again.",
	KindInvalidResponse:     "The AI returned an unexpected response. Please try again.",
}

// Error 上游调用失败
type Error struct {
	Kind        Kind
	Status      int
	UserMessage string
	Detail      string
	Err         error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable 429 与 5xx（含 504 超时）可重试
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindUnavailable || e.Status >= 500
}

// NewError 创建分类错误
func NewError(kind Kind, status int, detail string, err error) *Error {
	return &Error{
		Kind:        kind,
		Status:      status,
		UserMessage: userMessages[kind],
		Detail:      detail,
		Err:         err,
	}
}

// Classify 根据HTTP状态码与响应内容分类
func Classify(status int, body string) *Error {
	detail := strings.TrimSpace(body)
	if len(detail) > 512 {
		detail = detail[:512]
	}
	lower := strings.ToLower(detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindAuth, status, detail, nil)
	case status == http.StatusPaymentRequired || strings.Contains(lower, "insufficient") && strings.Contains(lower, "credit"):
		return NewError(KindInsufficientCredits, status, detail, nil)
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, status, detail, nil)
	case status == http.StatusNotFound || strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		return NewError(KindModelNotFound, status, detail, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewError(KindTimeout, status, detail, nil)
	case status >= 500:
		return NewError(KindUnavailable, status, detail, nil)
	default:
		return NewError(KindBadRequest, status, detail, nil)
	}
}

// classifyTransport 分类网络层错误
func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, 0, err.Error(), err)
	}
	return NewError(KindUnavailable, 0, err.Error(), err)
}

// UserMessage 返回面向用户的错误信息
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage
	}
	return "Failed to generate response. Please try again."
}
