package source

import (
	"context"
	"log/slog"
	"strings"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/matcher"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
	"github.com/couchcryptid/humanitarian-data-etl/internal/unmatched"
)

// Hint carries optional provider detail alongside a location string.
type Hint struct {
	Code     string // provider place code, e.g. an admin2 pcode
	Accuracy string // provider accuracy field, used to guess the admin level
	Context  string // record excerpt shown to operators
}

// Locator resolves provider location strings for one source and records the
// ones that fail.
type Locator struct {
	source    string
	matcher   matcher.Resolver
	unmatched unmatched.Recorder
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Resolve matches name, trying hint.Code first when present. A miss is recorded
// in the unmatched registry and returned as a *domain.LocationMismatch.
func (l *Locator) Resolve(ctx context.Context, name string, hint Hint) (matcher.Result, error) {
	return l.ResolveAny(ctx, []string{name}, hint)
}

// ResolveAny tries names most specific first and returns the first match below
// country level. The country fallback is used only when no name matches better.
func (l *Locator) ResolveAny(ctx context.Context, names []string, hint Hint) (matcher.Result, error) {
	var fallback matcher.Result
	haveFallback := false
	var tried []string

	if l.matcher != nil {
		if hint.Code != "" {
			if r, ok := l.matcher.MatchCode(hint.Code, l.source); ok {
				l.count(r.Strategy)
				return r, nil
			}
		}
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			tried = append(tried, name)
			r, ok := l.matcher.Match(name, l.source)
			if !ok {
				continue
			}
			if r.Strategy != matcher.StrategyCountry {
				l.count(r.Strategy)
				return r, nil
			}
			if !haveFallback {
				fallback, haveFallback = r, true
			}
		}
	}
	if haveFallback {
		l.count(fallback.Strategy)
		return fallback, nil
	}
	l.count(matcher.StrategyNone)

	name := strings.Join(tried, ", ")
	if name == "" {
		name = strings.Join(names, ", ")
	}
	if l.unmatched != nil {
		err := l.unmatched.Record(ctx, unmatched.Sighting{
			Name:    name,
			Source:  l.source,
			Code:    hint.Code,
			Hint:    hint.Accuracy,
			Context: hint.Context,
		})
		if err != nil && l.logger != nil {
			l.logger.Warn("record unmatched location", "source", l.source, "location", name, "error", err)
		}
	}
	return matcher.Result{}, &domain.LocationMismatch{Source: l.source, Name: name}
}

func (l *Locator) count(s matcher.Strategy) {
	if l.metrics != nil {
		l.metrics.LocationMatches.WithLabelValues(l.source, string(s)).Inc()
	}
}
