package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/abdhe/llm-chat-proxy/pkg/metrics"
	"github.com/abdhe/llm-chat-proxy/pkg/resilience"
)

// Error categories. Every failure that crosses the Provider interface carries
// exactly one of the first three; ErrService is the catch-all.
var (
	ErrService       = errors.New("ai service error")
	ErrProvider      = errors.New("ai provider error")
	ErrConfiguration = errors.New("ai configuration error")
	ErrRateLimit     = errors.New("ai rate limit exceeded")
)

// Category is the externally visible name of an error category.
type Category string

const (
	CategoryProvider      Category = "provider_error"
	CategoryConfiguration Category = "configuration_error"
	CategoryRateLimit     Category = "rate_limit_error"
	CategoryService       Category = "service_error"
)

// Error is a classified provider failure. Kind is one of the category
// sentinels; Err is the underlying cause and stays reachable via errors.Is.
type Error struct {
	Kind     error
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the category sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewConfigurationError returns a configuration-category error.
func NewConfigurationError(providerName, msg string, cause error) *Error {
	return &Error{Kind: ErrConfiguration, Provider: providerName, Message: msg, Err: cause}
}

// CategoryOf maps err to its category. Errors that carry none of the
// provider sentinels are CategoryService.
func CategoryOf(err error) Category {
	switch {
	case errors.Is(err, ErrRateLimit):
		return CategoryRateLimit
	case errors.Is(err, ErrConfiguration):
		return CategoryConfiguration
	case errors.Is(err, ErrProvider):
		return CategoryProvider
	default:
		return CategoryService
	}
}

// Classify converts a raw transport failure into a categorized *Error.
//
// Upstream APIs mostly report failures as free text, so the category is chosen
// by keyword, in order: rate limit/quota, api key/authentication,
// permission/forbidden, anything else. A change in upstream wording will
// silently move an error into the provider category. When the failure is an
// HTTP 429, 401 or 403 with no matching keyword, the status code decides.
func Classify(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	status := 0
	var httpErr *resilience.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.StatusCode
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "quota"):
		return rateLimitError(providerName, err)
	case containsAny(msg, "api key", "authentication"):
		return authError(providerName, err)
	case containsAny(msg, "permission", "forbidden"):
		return permissionError(providerName, err)
	case status == http.StatusTooManyRequests:
		return rateLimitError(providerName, err)
	case status == http.StatusUnauthorized:
		return authError(providerName, err)
	case status == http.StatusForbidden:
		return permissionError(providerName, err)
	default:
		return &Error{Kind: ErrProvider, Provider: providerName, Message: providerName + " provider error", Err: err}
	}
}

func rateLimitError(name string, err error) *Error {
	return &Error{Kind: ErrRateLimit, Provider: name, Message: name + " rate limit exceeded", Err: err}
}

func authError(name string, err error) *Error {
	return &Error{Kind: ErrConfiguration, Provider: name, Message: name + " authentication error", Err: err}
}

func permissionError(name string, err error) *Error {
	return &Error{Kind: ErrConfiguration, Provider: name, Message: name + " permission error", Err: err}
}

// report classifies err, logs it and counts it against the provider.
// Cancellations are classified but not counted.
func report(logger *slog.Logger, providerName string, err error) error {
	err = Classify(providerName, err)
	category := CategoryOf(err)

	// A caller going away is not an upstream failure and is not counted.
	if errors.Is(err, context.Canceled) {
		logger.Debug("provider call cancelled", "error", err)
		return err
	}
	metrics.ProviderErrors.WithLabelValues(providerName, string(category)).Inc()

	switch {
	case category == CategoryRateLimit:
		logger.Warn("provider rate limited", "category", category, "error", err)
	default:
		logger.Error("provider call failed", "category", category, "error", err)
	}
	return err
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
