// Package source holds the contract every provider adapter implements and the
// shared helpers they are composed from.
package source

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/matcher"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
	"github.com/couchcryptid/humanitarian-data-etl/internal/unmatched"
)

// Adapter retrieves raw provider data and turns it into observations.
//
// Retrieve performs network I/O and persists one raw artifact. Process is pure
// with respect to the network: it reads only the batch it is given.
type Adapter interface {
	Name() string
	Variables() []domain.Variable
	Retrieve(ctx context.Context, v domain.Variable, opts RetrieveOptions) (domain.RawBatch, error)
	Process(ctx context.Context, v domain.Variable, batch domain.RawBatch) (domain.ProcessingResult, error)
}

// RetrieveOptions narrows a retrieval.
type RetrieveOptions struct {
	// Since is the first day to fetch. Zero means the configured history start.
	Since time.Time
	// Force skips cadence checks such as the IOM weekly window.
	Force bool
	// DryRun fetches but does not write a raw artifact. Used by connectivity checks.
	DryRun bool
}

// RawSaver persists verbatim provider responses.
type RawSaver interface {
	Save(source, variable string, body []byte) (domain.RawBatch, error)
}

// Scope is the geographic and temporal scope every adapter filters to.
type Scope struct {
	CountryName  string
	ISO3         []string
	HistoryStart time.Time
}

// PrimaryISO3 returns the first configured ISO3 code.
func (s Scope) PrimaryISO3() string {
	if len(s.ISO3) == 0 {
		return ""
	}
	return s.ISO3[0]
}

// HasISO3 reports whether code is one of the configured country codes.
func (s Scope) HasISO3(code string) bool {
	for _, c := range s.ISO3 {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// Deps is injected into every adapter constructor.
type Deps struct {
	Scope     Scope
	HTTP      ClientConfig
	Matcher   matcher.Resolver
	Unmatched unmatched.Recorder
	Raw       RawSaver
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Window returns the [start, end] days a retrieval should cover.
func (d Deps) Window(opts RetrieveOptions) (time.Time, time.Time) {
	start := d.Scope.HistoryStart
	if !opts.Since.IsZero() {
		start = opts.Since
	}
	end := domain.Day(d.now())
	if start.After(end) {
		start = end
	}
	return domain.Day(start), end
}

// Save writes body as the raw artifact for (source, variable) unless the
// retrieval is a dry run.
func (d Deps) Save(opts RetrieveOptions, source, variable string, body []byte) (domain.RawBatch, error) {
	if opts.DryRun || d.Raw == nil {
		return domain.RawBatch{Source: source, Variable: variable, Body: body, RetrievedAt: d.now()}, nil
	}
	return d.Raw.Save(source, variable, body)
}

// Log returns the logger tagged with source and variable.
func (d Deps) Log(source string, v domain.Variable) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("source", source, "variable", v.Code)
}

// Locator returns a location resolver for source.
func (d Deps) Locator(source string) *Locator {
	return &Locator{
		source:    source,
		matcher:   d.Matcher,
		unmatched: d.Unmatched,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// Since reports the time elapsed since t on the injected clock, or real time
// when none is set.
func (d Deps) Since(t time.Time) time.Duration {
	return d.now().Sub(t)
}

func (d Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock.Now().UTC()
}

// FindVariable returns the variable with code from vars.
func FindVariable(vars []domain.Variable, code string) (domain.Variable, bool) {
	for _, v := range vars {
		if v.Code == code {
			return v, true
		}
	}
	return domain.Variable{}, false
}

// Clip shortens s to at most n runes.
func Clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

// PrimaryName returns the first comma component of a location string.
func PrimaryName(s string) string {
	first, _, _ := strings.Cut(s, ",")
	return strings.TrimSpace(first)
}
