// Package sourcetest builds adapter dependencies over a small Sudan gazetteer
// for provider tests.
package sourcetest

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/gazetteer"
	"github.com/couchcryptid/humanitarian-data-etl/internal/matcher"
	"github.com/couchcryptid/humanitarian-data-etl/internal/observability"
	"github.com/couchcryptid/humanitarian-data-etl/internal/rawstore"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
	"github.com/couchcryptid/humanitarian-data-etl/internal/unmatched"
)

// Now is the fake clock's starting time.
var Now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// Env bundles the injected dependencies with handles tests inspect.
type Env struct {
	Deps      source.Deps
	Clock     *clockwork.FakeClock
	Unmatched *unmatched.Registry
	Raw       *rawstore.FileStore
	Metrics   *observability.Metrics
	Index     *gazetteer.Index
}

// New returns an Env writing raw artifacts under t.TempDir().
func New(t testing.TB) *Env {
	t.Helper()

	ix, err := gazetteer.Build(Seed())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(Now)
	reg := unmatched.NewRegistry(clock)
	raw := rawstore.NewFileStore(t.TempDir(), clock)
	metrics := observability.NewMetricsForTesting()

	return &Env{
		Deps: source.Deps{
			Scope: source.Scope{
				CountryName:  "Sudan",
				ISO3:         []string{"SDN", "AB9"},
				HistoryStart: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			},
			HTTP:      source.ClientConfig{Timeout: 5 * time.Second},
			Matcher:   matcher.New(ix, "Sudan"),
			Unmatched: reg,
			Raw:       raw,
			Clock:     clock,
			Metrics:   metrics,
		},
		Clock:     clock,
		Unmatched: reg,
		Raw:       raw,
		Metrics:   metrics,
		Index:     ix,
	}
}

// Seed is the fixture gazetteer: Sudan, three states and two localities.
func Seed() gazetteer.Seed {
	all := func(names ...string) map[string][]string {
		return map[string][]string{
			"IDMC IDU":  names,
			"IDMC GIDD": names,
			"ACLED":     names,
			"IOM DTM":   names,
			"ReliefWeb": names,
		}
	}
	return gazetteer.Seed{
		Locations: []gazetteer.SeedLocation{
			{ID: "SD", Name: "Sudan", AdminLevel: 0, Code: "SDN", Aliases: all("Sudan")},
			{ID: "SD01", Name: "Khartoum", AdminLevel: 1, Parent: "SD", Code: "SD01", Aliases: map[string][]string{
				"IDMC IDU":  {"Khartoum State"},
				"IDMC GIDD": {"Khartoum"},
				"ACLED":     {"Khartoum"},
				"IOM DTM":   {"Khartoum"},
			}},
			{ID: "SD02", Name: "North Darfur", AdminLevel: 1, Parent: "SD", Code: "SD02", Aliases: map[string][]string{
				"IDMC IDU":  {"North Darfur State"},
				"IDMC GIDD": {"North Darfur"},
				"ACLED":     {"North Darfur"},
				"IOM DTM":   {"North Darfur"},
			}},
			{ID: "SD11", Name: "Kassala", AdminLevel: 1, Parent: "SD", Code: "SD11", Aliases: map[string][]string{
				"IDMC IDU":  {"Kassala State"},
				"IDMC GIDD": {"Kassala"},
				"ACLED":     {"Kassala"},
				"IOM DTM":   {"Kassala"},
			}},
			{ID: "SD02001", Name: "Al Fasher", AdminLevel: 2, Parent: "SD02", Code: "SD02001", Aliases: map[string][]string{
				"ACLED":   {"El Fasher", "Al Fasher"},
				"IOM DTM": {"Al Fasher"},
			}},
			{ID: "SD01001", Name: "Khartoum Bahri", AdminLevel: 2, Parent: "SD01", Code: "SD01001", Aliases: map[string][]string{
				"ACLED":   {"Bahri", "Khartoum North"},
				"IOM DTM": {"Khartoum Bahri"},
			}},
		},
	}
}
