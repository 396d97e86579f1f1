package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindRateLimited   ErrorKind = "rate_limited"
	KindProviderError ErrorKind = "provider_error"
	KindMalformed     ErrorKind = "malformed"
)

// GatewayError is returned for every failed model call.
type GatewayError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

// NewGatewayError wraps err with kind.
func NewGatewayError(kind ErrorKind, provider string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Provider: provider, Err: err}
}

// FromStatus classifies a provider failure by HTTP status code.
func FromStatus(provider string, status int, err error) *GatewayError {
	kind := KindProviderError
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = KindTimeout
	}
	return &GatewayError{Kind: kind, Provider: provider, StatusCode: status, Err: err}
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Kind)
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed. Client side
// provider errors (4xx other than 408/429) are not retryable.
func (e *GatewayError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindMalformed:
		return true
	case KindProviderError:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}

// IsRetryable reports whether err is a retryable *GatewayError.
func IsRetryable(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Retryable()
}

// IsGatewayError reports whether err wraps a *GatewayError.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}
