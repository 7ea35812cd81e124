// Package gazetteer holds the per-source alias table used to resolve provider
// place names to canonical locations. An Index is built once at startup and is
// read-only afterwards, so it is safe for concurrent use by adapters.
package gazetteer

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

// Index stores canonical locations and their per-source gazetteer entries.
// Entries keep insertion order within a source; the matcher relies on that
// order to break ties.
type Index struct {
	locations map[string]domain.Location
	order     []string
	entries   map[string][]domain.GazetteerEntry
	sources   []string
}

// New returns an empty index.
func New() *Index {
	return &Index{
		locations: make(map[string]domain.Location),
		entries:   make(map[string][]domain.GazetteerEntry),
	}
}

// AddLocation registers a canonical location. The parent, if any, must already exist.
func (ix *Index) AddLocation(loc domain.Location) error {
	if loc.ID == "" {
		return fmt.Errorf("location %q has no id", loc.Name)
	}
	if _, ok := ix.locations[loc.ID]; ok {
		return fmt.Errorf("duplicate location id %q", loc.ID)
	}
	if loc.ParentID != "" {
		if _, ok := ix.locations[loc.ParentID]; !ok {
			return fmt.Errorf("location %q: unknown parent %q", loc.ID, loc.ParentID)
		}
	}
	ix.locations[loc.ID] = loc
	ix.order = append(ix.order, loc.ID)
	return nil
}

// AddEntry registers a source alias for an existing location.
func (ix *Index) AddEntry(e domain.GazetteerEntry) error {
	if strings.TrimSpace(e.Name) == "" || e.Source == "" {
		return fmt.Errorf("gazetteer entry needs a name and a source: %+v", e)
	}
	if _, ok := ix.locations[e.LocationID]; !ok {
		return fmt.Errorf("gazetteer entry %q (%s): unknown location %q", e.Name, e.Source, e.LocationID)
	}
	if _, ok := ix.entries[e.Source]; !ok {
		ix.sources = append(ix.sources, e.Source)
	}
	ix.entries[e.Source] = append(ix.entries[e.Source], e)
	return nil
}

// Entries returns the entries for source in insertion order.
func (ix *Index) Entries(source string) []domain.GazetteerEntry {
	return ix.entries[source]
}

// Sources lists the source tags that have at least one entry, in first-seen order.
func (ix *Index) Sources() []string {
	out := make([]string, len(ix.sources))
	copy(out, ix.sources)
	return out
}

// Location looks up a canonical location by id.
func (ix *Index) Location(id string) (domain.Location, bool) {
	loc, ok := ix.locations[id]
	return loc, ok
}

// Locations returns all canonical locations in insertion order.
func (ix *Index) Locations() []domain.Location {
	out := make([]domain.Location, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.locations[id])
	}
	return out
}

// ByCode returns the first entry under source whose code equals code
// (case-insensitive), falling back to the code of the location itself.
func (ix *Index) ByCode(code, source string) (domain.GazetteerEntry, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.GazetteerEntry{}, false
	}
	for _, e := range ix.entries[source] {
		if strings.EqualFold(e.Code, code) {
			return e, true
		}
	}
	for _, e := range ix.entries[source] {
		if strings.EqualFold(ix.locations[e.LocationID].Code, code) {
			return e, true
		}
	}
	return domain.GazetteerEntry{}, false
}

// Ancestors returns the chain from id's parent up to the country, nearest first.
func (ix *Index) Ancestors(id string) []domain.Location {
	var chain []domain.Location
	loc, ok := ix.locations[id]
	for ok && loc.ParentID != "" {
		loc, ok = ix.locations[loc.ParentID]
		if ok {
			chain = append(chain, loc)
		}
	}
	return chain
}

// Len returns the total number of gazetteer entries across sources.
func (ix *Index) Len() int {
	n := 0
	for _, es := range ix.entries {
		n += len(es)
	}
	return n
}
