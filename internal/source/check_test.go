package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
)

type probeAdapter struct {
	err  error
	opts source.RetrieveOptions
}

func (p *probeAdapter) Name() string { return "PROBE" }

func (p *probeAdapter) Variables() []domain.Variable {
	return []domain.Variable{{Code: "probe_var", Source: "PROBE"}}
}

func (p *probeAdapter) Retrieve(_ context.Context, v domain.Variable, opts source.RetrieveOptions) (domain.RawBatch, error) {
	p.opts = opts
	if p.err != nil {
		return domain.RawBatch{}, p.err
	}
	return domain.RawBatch{Source: "PROBE", Variable: v.Code, Body: []byte("[1,2]")}, nil
}

func (p *probeAdapter) Process(context.Context, domain.Variable, domain.RawBatch) (domain.ProcessingResult, error) {
	return domain.ProcessingResult{}, nil
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		conn, auth  source.CheckStatus
		data, total source.CheckStatus
	}{
		{"success", nil, source.CheckSuccess, source.CheckSuccess, source.CheckSuccess, source.CheckSuccess},
		{"missing credentials", &domain.ConfigurationError{Source: "PROBE", Missing: []string{"KEY"}}, source.CheckSkipped, source.CheckFailed, source.CheckSkipped, source.CheckFailed},
		{"bad credentials", domain.ClassifyStatus("PROBE", 401, ""), source.CheckSuccess, source.CheckFailed, source.CheckSkipped, source.CheckFailed},
		{"rate limited", domain.ClassifyStatus("PROBE", 429, ""), source.CheckSuccess, source.CheckSuccess, source.CheckSkipped, source.CheckPartial},
		{"server error", domain.ClassifyStatus("PROBE", 500, ""), source.CheckSuccess, source.CheckSuccess, source.CheckFailed, source.CheckFailed},
		{"unreachable", &domain.RetrievalError{Source: "PROBE", Err: errors.New("dial tcp: refused")}, source.CheckFailed, source.CheckSkipped, source.CheckSkipped, source.CheckFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))
			a := &probeAdapter{err: tt.err}

			res := source.Check(context.Background(), a, clock)

			assert.Equal(t, "PROBE", res.Source)
			assert.Equal(t, "probe_var", res.Variable)
			assert.Equal(t, tt.conn, res.Connectivity)
			assert.Equal(t, tt.auth, res.Authentication)
			assert.Equal(t, tt.data, res.DataRetrieval)
			assert.Equal(t, tt.total, res.Overall)
			assert.True(t, a.opts.DryRun)
			assert.True(t, a.opts.Force)
			assert.Equal(t, time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC), a.opts.Since)
		})
	}
}

func TestRequireEnv(t *testing.T) {
	err := source.RequireEnv("ACLED",
		source.Credential{Env: "ACLED_USERNAME", Value: "me"},
		source.Credential{Env: "ACLED_API_KEY"},
	)
	var cfgErr *domain.ConfigurationError
	if assert.ErrorAs(t, err, &cfgErr) {
		assert.Equal(t, []string{"ACLED_API_KEY"}, cfgErr.Missing)
		assert.Equal(t, "ACLED", cfgErr.Source)
	}

	assert.NoError(t, source.RequireEnv("IOM DTM", source.Credential{Env: "IOM_API_KEY", Value: "k"}))
}
