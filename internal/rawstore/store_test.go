package rawstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveUsesPathPattern(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 3, 14, 5, 9, 0, time.UTC))
	s := NewFileStore(dir, clock)

	batch, err := s.Save("IDMC IDU", "idmc_idu_new_displacements", []byte(`[{"id":1}]`))
	require.NoError(t, err)

	want := filepath.Join(dir, "idmc_idu", "idmc_idu_idmc_idu_new_displacements_20250703_140509.json")
	assert.Equal(t, want, batch.Path)
	assert.Equal(t, clock.Now(), batch.RetrievedAt)

	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(got))

	_, err = os.Stat(want + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestFileStore_LatestPicksNewest(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC))
	s := NewFileStore(dir, clock)

	_, err := s.Save("ACLED", "acled_riots", []byte(`"old"`))
	require.NoError(t, err)
	clock.Advance(90 * time.Minute)
	_, err = s.Save("ACLED", "acled_riots", []byte(`"new"`))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = s.Save("ACLED", "acled_riots_extra", []byte(`"other variable"`))
	require.NoError(t, err)

	batch, err := s.Latest("ACLED", "acled_riots")
	require.NoError(t, err)
	assert.Equal(t, `"new"`, string(batch.Body))
	assert.Equal(t, "ACLED", batch.Source)
	assert.Equal(t, "acled_riots", batch.Variable)
	assert.Equal(t, time.Date(2025, 7, 3, 1, 30, 0, 0, time.UTC), batch.RetrievedAt)
}

func TestFileStore_LatestNotFound(t *testing.T) {
	s := NewFileStore(t.TempDir(), clockwork.NewFakeClock())

	_, err := s.Latest("ReliefWeb", "reliefweb_flood_events")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "reliefweb"), 0o750))
	_, err = s.Latest("ReliefWeb", "reliefweb_flood_events")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"IDMC IDU":    "idmc_idu",
		"IOM DTM":     "iom_dtm",
		"ReliefWeb":   "reliefweb",
		" ACLED ":     "acled",
		"IDMC - GIDD": "idmc_gidd",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}
