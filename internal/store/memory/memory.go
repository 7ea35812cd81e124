// Package memory is an in-process observation store for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

// Store keeps observations keyed by (source_record_id, variable_code).
type Store struct {
	mu  sync.RWMutex
	obs map[domain.ObservationKey]domain.Observation
}

// New creates an empty Store.
func New() *Store {
	return &Store{obs: make(map[domain.ObservationKey]domain.Observation)}
}

// Upsert inserts new observations and replaces existing ones with the same key.
func (s *Store) Upsert(_ context.Context, obs []domain.Observation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range obs {
		s.obs[o.Key()] = o
	}
	return len(obs), nil
}

// LatestEndDate returns the newest end date stored for (source, variable).
func (s *Store) LatestEndDate(_ context.Context, source, variable string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	found := false
	for _, o := range s.obs {
		if o.Source != source || o.VariableCode != variable {
			continue
		}
		if !found || o.EndDate.After(latest) {
			latest = o.EndDate
			found = true
		}
	}
	return latest, found, nil
}

// Len returns the number of stored observations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.obs)
}

// All returns every observation sorted by variable then record id.
func (s *Store) All() []domain.Observation {
	s.mu.RLock()
	out := make([]domain.Observation, 0, len(s.obs))
	for _, o := range s.obs {
		out = append(out, o)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].VariableCode != out[j].VariableCode {
			return out[i].VariableCode < out[j].VariableCode
		}
		return out[i].SourceRecordID < out[j].SourceRecordID
	})
	return out
}
