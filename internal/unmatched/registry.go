// Package unmatched tracks provider location strings the matcher could not
// resolve, so operators can extend the gazetteer.
package unmatched

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

const maxContextLen = 250

// admHintRe finds accuracy hints like "(ADM1)" in provider fields.
var admHintRe = regexp.MustCompile(`(?i)\(?adm\s*([0-3])\)?`)

// Location is one unresolved (name, source) pair.
type Location struct {
	Name            string            `json:"name"`
	Source          string            `json:"source"`
	Code            string            `json:"code,omitempty"`
	AdminLevelGuess domain.AdminLevel `json:"admin_level_guess"`
	Context         string            `json:"context,omitempty"`
	Occurrences     int               `json:"occurrences"`
	FirstSeen       time.Time         `json:"first_seen"`
	LastSeen        time.Time         `json:"last_seen"`
}

// Sighting is a single unmatched occurrence reported by an adapter.
type Sighting struct {
	Name    string
	Source  string
	Code    string
	Hint    string // provider accuracy field, e.g. "Sudan (ADM2)"
	Context string
}

// Recorder persists unmatched sightings.
type Recorder interface {
	Record(ctx context.Context, s Sighting) error
	Summary(ctx context.Context, since time.Time, limit int) ([]Location, error)
}

// Registry is an in-memory Recorder keyed by (name, source).
type Registry struct {
	clock clockwork.Clock
	mu    sync.Mutex
	byKey map[string]*Location
}

// NewRegistry creates an empty registry stamping times from clock.
func NewRegistry(clock clockwork.Clock) *Registry {
	return &Registry{clock: clock, byKey: make(map[string]*Location)}
}

// Record adds one sighting, incrementing the count for a known (name, source).
func (r *Registry) Record(_ context.Context, s Sighting) error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return nil
	}
	now := r.clock.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name) + "\x00" + s.Source
	if loc, ok := r.byKey[key]; ok {
		loc.Occurrences++
		loc.LastSeen = now
		return nil
	}
	r.byKey[key] = &Location{
		Name:            name,
		Source:          s.Source,
		Code:            s.Code,
		AdminLevelGuess: GuessAdminLevel(name, s.Hint),
		Context:         TruncateContext(s.Context),
		Occurrences:     1,
		FirstSeen:       now,
		LastSeen:        now,
	}
	return nil
}

// Summary returns locations last seen at or after since, most frequent first.
// limit <= 0 means no limit.
func (r *Registry) Summary(_ context.Context, since time.Time, limit int) ([]Location, error) {
	r.mu.Lock()
	out := make([]Location, 0, len(r.byKey))
	for _, loc := range r.byKey {
		if !loc.LastSeen.Before(since) {
			out = append(out, *loc)
		}
	}
	r.mu.Unlock()

	SortByFrequency(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SortByFrequency orders by occurrences desc, then source and name for stability.
func SortByFrequency(locs []Location) {
	sort.SliceStable(locs, func(i, j int) bool {
		if locs[i].Occurrences != locs[j].Occurrences {
			return locs[i].Occurrences > locs[j].Occurrences
		}
		if locs[i].Source != locs[j].Source {
			return locs[i].Source < locs[j].Source
		}
		return locs[i].Name < locs[j].Name
	})
}

// GuessAdminLevel infers a level from an explicit ADM hint, else from how
// many comma-separated parts the name has (more parts, more specific).
func GuessAdminLevel(name, hint string) domain.AdminLevel {
	if m := admHintRe.FindStringSubmatch(hint); m != nil {
		return domain.AdminLevel(m[1][0] - '0')
	}
	parts := 0
	for _, p := range strings.Split(name, ",") {
		if strings.TrimSpace(p) != "" {
			parts++
		}
	}
	switch {
	case parts >= 3:
		return domain.AdminSettlement
	case parts == 2:
		return domain.AdminLocality
	default:
		return domain.AdminState
	}
}

// TruncateContext caps free-text context at the stored length.
func TruncateContext(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxContextLen {
		return s
	}
	return string(r[:maxContextLen])
}

// Message renders an operator notification for a summary, listing the top ten.
func Message(locs []Location) string {
	if len(locs) == 0 {
		return "No unmatched locations."
	}
	total := 0
	for _, l := range locs {
		total += l.Occurrences
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d unmatched locations (%d occurrences) need gazetteer entries.\n", len(locs), total)
	for i, l := range locs {
		if i == 10 {
			fmt.Fprintf(&b, "... and %d more\n", len(locs)-10)
			break
		}
		fmt.Fprintf(&b, "- %s [%s] x%d (guess: %s)\n", l.Name, l.Source, l.Occurrences, l.AdminLevelGuess)
	}
	return b.String()
}
