package gateway

import (
	"errors"
	"fmt"
)

// Stable error codes shared across adapters.
const (
	CodeCardDeclined        = "card_declined"
	CodeInsufficientFunds   = "insufficient_funds"
	CodeInvalidRequest      = "invalid_request"
	CodeAuthenticationError = "authentication_error"
	CodeNotFound            = "resource_not_found"
	CodeRateLimited         = "rate_limited"
	CodeProviderUnavailable = "provider_unavailable"
	CodeUnknown             = "unknown_error"
)

// GatewayError is the only error type adapters let past the boundary.
type GatewayError struct {
	Message string
	Code    string
	Details map[string]any
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error [%s]: %s", e.Code, e.Message)
}

func NewError(code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

func NewErrorWithDetails(code, message string, details map[string]any) *GatewayError {
	return &GatewayError{Code: code, Message: message, Details: details}
}

// WrapTransport normalizes a raw transport failure (dial, timeout, TLS).
func WrapTransport(provider string, err error) *GatewayError {
	return &GatewayError{
		Code:    CodeProviderUnavailable,
		Message: "provider request failed",
		Details: map[string]any{"provider": provider, "cause": err.Error()},
	}
}

func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
