package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      RetrievalKind
		retryable bool
	}{
		{http.StatusTooManyRequests, RetrievalRateLimited, true},
		{http.StatusUnauthorized, RetrievalAuthenticationFailed, false},
		{http.StatusForbidden, RetrievalAuthenticationFailed, false},
		{http.StatusInternalServerError, RetrievalFailed, false},
		{http.StatusNotFound, RetrievalFailed, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := ClassifyStatus("ACLED", tt.status, "body")
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.retryable, err.Retryable())
			assert.Equal(t, tt.retryable, IsRetryable(fmt.Errorf("wrapped: %w", err)))
			assert.Contains(t, err.Error(), fmt.Sprint(tt.status))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	rateLimited := fmt.Errorf("fetch: %w", &RetrievalError{Source: "IOM DTM", Kind: RetrievalRateLimited})
	authFailed := &RetrievalError{Source: "ACLED", Kind: RetrievalAuthenticationFailed, StatusCode: 403}
	cfgErr := &ConfigurationError{Source: "IDMC IDU", Missing: []string{"IDMC_API_KEY"}}
	mismatch := &LocationMismatch{Source: "IDMC IDU", Name: "Atlantis"}

	assert.True(t, IsRateLimited(rateLimited))
	assert.False(t, IsAuthenticationFailed(rateLimited))
	assert.True(t, IsAuthenticationFailed(authFailed))
	assert.False(t, IsRetryable(authFailed))
	assert.True(t, IsConfigurationError(fmt.Errorf("retrieve: %w", cfgErr)))
	assert.Contains(t, cfgErr.Error(), "IDMC_API_KEY")
	assert.True(t, IsLocationMismatch(mismatch))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsConfigurationError(errors.New("plain")))
}

func TestRecordParsingError_Unwrap(t *testing.T) {
	inner := errors.New("empty date")
	err := &RecordParsingError{Source: "ACLED", RecordID: "SUD123", Field: "event_date", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "ACLED: record SUD123: field event_date: empty date", err.Error())
}
