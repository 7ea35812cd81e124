// Package matcher resolves free-text provider location strings to canonical
// gazetteer locations.
package matcher

import (
	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/gazetteer"
)

// Strategy names the fallback step that produced a match.
type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategyPartial   Strategy = "partial"
	StrategyComponent Strategy = "component"
	StrategyCountry   Strategy = "country"
	StrategyCode      Strategy = "code"
	StrategyNone      Strategy = "none"
)

// Result is a resolved location together with the entry and step that matched.
type Result struct {
	Location domain.Location
	Entry    domain.GazetteerEntry
	Strategy Strategy
}

type candidate struct {
	norm    string
	entry   domain.GazetteerEntry
	country bool // points at the configured country's location
}

// Matcher runs the fallback chain over a read-only gazetteer index. It holds no
// mutable state after construction and is safe for concurrent use.
type Matcher struct {
	index   *gazetteer.Index
	country string
	entries map[string][]candidate
}

// New precomputes normalized entry names for every source in index.
// country is the name looked up for the country-level fallback.
func New(index *gazetteer.Index, country string) *Matcher {
	m := &Matcher{
		index:   index,
		country: Normalize(country),
		entries: make(map[string][]candidate),
	}
	for _, source := range index.Sources() {
		entries := index.Entries(source)
		countryIDs := make(map[string]bool)
		for _, e := range entries {
			if m.country != "" && Normalize(e.Name) == m.country {
				countryIDs[e.LocationID] = true
			}
		}
		for _, e := range entries {
			m.entries[source] = append(m.entries[source], candidate{
				norm:    Normalize(e.Name),
				entry:   e,
				country: countryIDs[e.LocationID],
			})
		}
	}
	return m
}

// Match resolves name under source. Steps, first success wins:
//
//  1. exact, case- and accent-insensitive equality with an entry name
//  2. partial, word-bounded containment either way; the longest entry name wins
//  3. each comma component of name, first to last, through steps 1 and 2
//  4. the source's entry for the configured country
//
// Entries pointing at the configured country take part only in step 1 on the
// whole name and in step 4, so "Camp, Bara, Sudan" resolves to Bara rather
// than to the country named in its last component.
//
// Ties between equally long partial matches go to the earliest inserted entry.
// An empty name never matches. ok is false when nothing matched.
func (m *Matcher) Match(name, source string) (Result, bool) {
	full := Normalize(name)
	if full == "" {
		return Result{}, false
	}
	cands := m.entries[source]

	if r, ok := m.matchOne(full, cands, true); ok {
		return r, true
	}

	tried := map[string]bool{full: true}
	for _, part := range Components(name) {
		if tried[part] {
			continue
		}
		tried[part] = true
		if r, ok := m.matchOne(part, cands, false); ok {
			r.Strategy = StrategyComponent
			return r, true
		}
	}

	return m.countryFallback(cands)
}

// MatchCode resolves an administrative code such as a pcode under source.
func (m *Matcher) MatchCode(code, source string) (Result, bool) {
	e, ok := m.index.ByCode(code, source)
	if !ok {
		return Result{}, false
	}
	return m.result(e, StrategyCode)
}

// matchOne runs the exact and partial steps for n. Country entries are only
// eligible for an exact match, and only when exactCountry is set.
func (m *Matcher) matchOne(n string, cands []candidate, exactCountry bool) (Result, bool) {
	for _, c := range cands {
		if c.norm == n && (exactCountry || !c.country) {
			return m.result(c.entry, StrategyExact)
		}
	}

	best := -1
	for i, c := range cands {
		if c.country {
			continue
		}
		if !containsWord(n, c.norm) && !containsWord(c.norm, n) {
			continue
		}
		if best < 0 || len(c.norm) > len(cands[best].norm) {
			best = i
		}
	}
	if best < 0 {
		return Result{}, false
	}
	return m.result(cands[best].entry, StrategyPartial)
}

func (m *Matcher) countryFallback(cands []candidate) (Result, bool) {
	if m.country == "" {
		return Result{}, false
	}
	for _, c := range cands {
		if c.norm == m.country {
			return m.result(c.entry, StrategyCountry)
		}
	}
	return Result{}, false
}

func (m *Matcher) result(e domain.GazetteerEntry, s Strategy) (Result, bool) {
	loc, ok := m.index.Location(e.LocationID)
	if !ok {
		return Result{}, false
	}
	return Result{Location: loc, Entry: e, Strategy: s}, true
}
