package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUpToDate is returned by Retrieve when the source has nothing new to fetch yet.
var ErrUpToDate = errors.New("source data is up to date")

// ConfigurationError reports missing or invalid settings for a source. It is
// returned before any network call and is never retried.
type ConfigurationError struct {
	Source  string
	Missing []string
	Message string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: configuration error: missing %s", e.Source, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Source, e.Message)
}

// RetrievalKind distinguishes how a provider fetch failed.
type RetrievalKind int

const (
	// RetrievalFailed covers transport errors and unexpected HTTP statuses.
	RetrievalFailed RetrievalKind = iota
	// RetrievalRateLimited is a 429 from the provider; retry after backoff.
	RetrievalRateLimited
	// RetrievalAuthenticationFailed is a 401/403; needs operator action.
	RetrievalAuthenticationFailed
	// RetrievalCircuitOpen means the client refused the call after repeated failures.
	RetrievalCircuitOpen
)

func (k RetrievalKind) String() string {
	switch k {
	case RetrievalRateLimited:
		return "rate_limited"
	case RetrievalAuthenticationFailed:
		return "authentication_failed"
	case RetrievalCircuitOpen:
		return "circuit_open"
	default:
		return "failed"
	}
}

// RetrievalError is a failed fetch against a provider endpoint.
type RetrievalError struct {
	Source     string
	Kind       RetrievalKind
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *RetrievalError) Error() string {
	msg := fmt.Sprintf("%s: retrieval %s", e.Source, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the orchestrator may retry the call with backoff.
func (e *RetrievalError) Retryable() bool {
	return e.Kind == RetrievalRateLimited
}

// ClassifyStatus maps a non-2xx HTTP status to a RetrievalError.
func ClassifyStatus(source string, status int, body string) *RetrievalError {
	e := &RetrievalError{Source: source, StatusCode: status, Message: truncate(strings.TrimSpace(body), 200)}
	switch status {
	case http.StatusTooManyRequests:
		e.Kind = RetrievalRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = RetrievalAuthenticationFailed
	default:
		e.Kind = RetrievalFailed
	}
	return e
}

// LocationMismatch is returned when a provider location string resolves to
// nothing, not even the country fallback. It is expected and never fatal.
type LocationMismatch struct {
	Source string
	Name   string
}

func (e *LocationMismatch) Error() string {
	return fmt.Sprintf("%s: no gazetteer match for %q", e.Source, e.Name)
}

// RecordParsingError is a malformed provider record. Only that record is skipped.
type RecordParsingError struct {
	Source   string
	RecordID string
	Field    string
	Err      error
}

func (e *RecordParsingError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "?"
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: record %s: field %s: %v", e.Source, id, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: record %s: %v", e.Source, id, e.Err)
}

func (e *RecordParsingError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsRateLimited reports whether err is a rate-limited RetrievalError.
func IsRateLimited(err error) bool {
	var retErr *RetrievalError
	if errors.As(err, &retErr) {
		return retErr.Kind == RetrievalRateLimited
	}
	return false
}

// IsAuthenticationFailed reports whether err is a 401/403 RetrievalError.
func IsAuthenticationFailed(err error) bool {
	var retErr *RetrievalError
	if errors.As(err, &retErr) {
		return retErr.Kind == RetrievalAuthenticationFailed
	}
	return false
}

// IsRetryable reports whether err signals a transient provider condition.
func IsRetryable(err error) bool {
	var retErr *RetrievalError
	if errors.As(err, &retErr) {
		return retErr.Retryable()
	}
	return false
}

// IsLocationMismatch reports whether err is or wraps a LocationMismatch.
func IsLocationMismatch(err error) bool {
	var lm *LocationMismatch
	return errors.As(err, &lm)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
