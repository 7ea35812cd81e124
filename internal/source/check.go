package source

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

// CheckStatus is the outcome of one connectivity stage, or of the whole check.
type CheckStatus string

const (
	CheckSuccess CheckStatus = "success"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
	CheckPartial CheckStatus = "partial"
)

// CheckResult reports whether a provider is reachable, accepts our credentials,
// and returns data.
type CheckResult struct {
	Source         string        `json:"source"`
	Variable       string        `json:"variable"`
	Connectivity   CheckStatus   `json:"connectivity"`
	Authentication CheckStatus   `json:"authentication"`
	DataRetrieval  CheckStatus   `json:"data_retrieval"`
	Overall        CheckStatus   `json:"overall"`
	Bytes          int           `json:"bytes"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

const checkWindow = 30 * 24 * time.Hour

// Check probes a with a dry-run retrieval of its first variable over the last 30 days.
func Check(ctx context.Context, a Adapter, clock clockwork.Clock) CheckResult {
	res := CheckResult{Source: a.Name()}
	vars := a.Variables()
	if len(vars) == 0 {
		res.Connectivity, res.Authentication, res.DataRetrieval = CheckSkipped, CheckSkipped, CheckSkipped
		res.Overall = CheckFailed
		res.Error = "adapter declares no variables"
		return res
	}
	v := vars[0]
	res.Variable = v.Code

	start := clock.Now()
	batch, err := a.Retrieve(ctx, v, RetrieveOptions{
		Since:  clock.Now().Add(-checkWindow),
		Force:  true,
		DryRun: true,
	})
	res.Duration = clock.Since(start)
	res.Bytes = len(batch.Body)
	if err != nil {
		res.Error = err.Error()
	}

	res.Connectivity, res.Authentication, res.DataRetrieval = classifyCheck(err)
	res.Overall = overall(res.Connectivity, res.Authentication, res.DataRetrieval)
	return res
}

func classifyCheck(err error) (conn, auth, data CheckStatus) {
	if err == nil {
		return CheckSuccess, CheckSuccess, CheckSuccess
	}
	if domain.IsConfigurationError(err) {
		return CheckSkipped, CheckFailed, CheckSkipped
	}
	var retErr *domain.RetrievalError
	if errors.As(err, &retErr) {
		switch {
		case retErr.Kind == domain.RetrievalAuthenticationFailed:
			return CheckSuccess, CheckFailed, CheckSkipped
		case retErr.Kind == domain.RetrievalRateLimited:
			return CheckSuccess, CheckSuccess, CheckSkipped
		case retErr.StatusCode != 0:
			return CheckSuccess, CheckSuccess, CheckFailed
		}
	}
	return CheckFailed, CheckSkipped, CheckSkipped
}

func overall(stages ...CheckStatus) CheckStatus {
	partial := false
	for _, s := range stages {
		switch s {
		case CheckFailed:
			return CheckFailed
		case CheckSkipped:
			partial = true
		}
	}
	if partial {
		return CheckPartial
	}
	return CheckSuccess
}
