package llm

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies a provider failure.
type Code string

const (
	CodeRateLimit      Code = "RATE_LIMIT_EXCEEDED"
	CodeTokenLimit     Code = "TOKEN_LIMIT_EXCEEDED"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeProvider       Code = "PROVIDER_ERROR"
	CodeTimeout        Code = "TIMEOUT"
)

// Error is a failed completion.
type Error struct {
	Code     Code
	Provider string
	Model    string
	Message  string
	Err      error

	// Set for CodeTokenLimit when the provider reports them
	TokenCount int
	MaxTokens  int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (c Code) Retryable() bool {
	switch c {
	case CodeRateLimit, CodeTimeout, CodeProvider:
		return true
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// NewTimeoutError reports a completion that did not finish within timeout.
func NewTimeoutError(provider, model string, timeout time.Duration, cause error) *Error {
	return &Error{
		Code:     CodeTimeout,
		Provider: provider,
		Model:    model,
		Message:  fmt.Sprintf("Request timed out after %s", timeout),
		Err:      cause,
	}
}

// NewRateLimitError reports a provider rate limit.
func NewRateLimitError(provider, model, detail string) *Error {
	msg := fmt.Sprintf("Rate limit exceeded for provider %s", provider)
	if detail != "" {
		msg += ": " + detail
	}
	return &Error{Code: CodeRateLimit, Provider: provider, Model: model, Message: msg}
}

// NewTokenLimitError reports a prompt the model's context cannot hold.
// Zero counts mean the provider did not say.
func NewTokenLimitError(provider, model string, tokenCount, maxTokens int) *Error {
	msg := "Token limit exceeded"
	if maxTokens > 0 {
		msg = fmt.Sprintf("Token limit exceeded: %d tokens requested, maximum is %d", tokenCount, maxTokens)
	}
	return &Error{Code: CodeTokenLimit, Provider: provider, Model: model, Message: msg, TokenCount: tokenCount, MaxTokens: maxTokens}
}

// NewProviderError reports any other provider-side failure.
func NewProviderError(provider, model, message string, cause error) *Error {
	return &Error{Code: CodeProvider, Provider: provider, Model: model, Message: message, Err: cause}
}

// NewInvalidRequestError reports a request the provider will never accept.
func NewInvalidRequestError(provider, model, message string) *Error {
	return &Error{Code: CodeInvalidRequest, Provider: provider, Model: model, Message: message}
}
