package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Kind classifies an upstream provider failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindQuotaExceeded
	KindModelUnavailable
	KindUnconfigured
)

// String returns the machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindUnconfigured:
		return "unconfigured"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure. Message is short and
// human-readable; the raw upstream error stays behind this boundary.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// Classify inspects an upstream error and returns the matching classified
// error. Already-classified errors and context cancellation pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Error{Kind: KindPermissionDenied, Message: "the provider rejected the configured credentials"}
		case http.StatusTooManyRequests:
			return &Error{Kind: KindQuotaExceeded, Message: "provider rate or resource limit exceeded; try again later"}
		case http.StatusNotFound:
			return &Error{Kind: KindModelUnavailable, Message: "the configured model or route was not found"}
		}
	}

	// Fall back to substring matching on the surfaced message, the way
	// upstream clients tend to wrap transport errors.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "api key", "permission denied", "unauthorized", "unauthenticated", "forbidden"):
		return &Error{Kind: KindPermissionDenied, Message: "the provider rejected the configured credentials"}
	case containsAny(msg, "quota", "rate limit", "resource exhausted", "429"):
		return &Error{Kind: KindQuotaExceeded, Message: "provider rate or resource limit exceeded; try again later"}
	case containsAny(msg, "not found", "unavailable", "no such model"):
		return &Error{Kind: KindModelUnavailable, Message: "the configured model or route was not found"}
	default:
		return &Error{Kind: KindUnknown, Message: "the language model request failed"}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
