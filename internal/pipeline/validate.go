package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

// validate drops observations that break the model invariants and moves them
// into res.Errors. Adapters should never produce them; this is the last gate
// before the store.
func (o *Orchestrator) validate(log *slog.Logger, res *domain.ProcessingResult) []domain.Observation {
	valid := make([]domain.Observation, 0, len(res.Observations))
	for _, obs := range res.Observations {
		if err := obs.Validate(); err != nil {
			log.Warn("invalid observation dropped", "record", obs.SourceRecordID, "error", err)
			res.Fail(fmt.Errorf("observation %s: %w", obs.SourceRecordID, err))
			continue
		}
		valid = append(valid, obs)
	}
	return valid
}
