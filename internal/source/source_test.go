package source_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source/sourcetest"
)

func TestDeps_Window(t *testing.T) {
	env := sourcetest.New(t)

	start, end := env.Deps.Window(source.RetrieveOptions{})
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), end)

	start, _ = env.Deps.Window(source.RetrieveOptions{Since: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)})
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), start)

	start, end = env.Deps.Window(source.RetrieveOptions{Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, end, start, "future since collapses to today")
}

func TestDeps_Since(t *testing.T) {
	env := sourcetest.New(t)
	assert.Equal(t, 48*time.Hour, env.Deps.Since(env.Clock.Now().Add(-48*time.Hour)))

	var bare source.Deps
	assert.InDelta(t, float64(time.Hour), float64(bare.Since(time.Now().Add(-time.Hour))), float64(time.Minute))
}

func TestDeps_SaveDryRun(t *testing.T) {
	env := sourcetest.New(t)

	batch, err := env.Deps.Save(source.RetrieveOptions{DryRun: true}, "ACLED", "acled_riots", []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, batch.Path)

	_, err = env.Raw.Latest("ACLED", "acled_riots")
	require.Error(t, err, "dry run writes nothing")

	batch, err = env.Deps.Save(source.RetrieveOptions{}, "ACLED", "acled_riots", []byte(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, batch.Path)
}

func TestScope(t *testing.T) {
	s := source.Scope{ISO3: []string{"SDN", "AB9"}}
	assert.Equal(t, "SDN", s.PrimaryISO3())
	assert.True(t, s.HasISO3("sdn"))
	assert.True(t, s.HasISO3("AB9"))
	assert.False(t, s.HasISO3("KEN"))
	assert.Empty(t, source.Scope{}.PrimaryISO3())
}
