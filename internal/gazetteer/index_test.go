package gazetteer

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

func TestIndex_AddLocationRequiresKnownParent(t *testing.T) {
	ix := New()
	require.NoError(t, ix.AddLocation(domain.Location{ID: "SD", Name: "Sudan"}))

	err := ix.AddLocation(domain.Location{ID: "SD09", Name: "Kassala", ParentID: "XX"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parent")

	err = ix.AddLocation(domain.Location{ID: "SD", Name: "Sudan again"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestIndex_AddEntryRequiresKnownLocation(t *testing.T) {
	ix := New()
	err := ix.AddEntry(domain.GazetteerEntry{Name: "Sudan", Source: "ACLED", LocationID: "SD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown location")

	err = ix.AddEntry(domain.GazetteerEntry{Name: " ", Source: "ACLED", LocationID: "SD"})
	require.Error(t, err)
}

func TestIndex_EntriesKeepInsertionOrder(t *testing.T) {
	ix := New()
	require.NoError(t, ix.AddLocation(domain.Location{ID: "SD", Name: "Sudan"}))
	for _, name := range []string{"b", "a", "c"} {
		require.NoError(t, ix.AddEntry(domain.GazetteerEntry{Name: name, Source: "ACLED", LocationID: "SD"}))
	}
	require.NoError(t, ix.AddEntry(domain.GazetteerEntry{Name: "z", Source: "IOM DTM", LocationID: "SD"}))

	var names []string
	for _, e := range ix.Entries("ACLED") {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
	assert.Equal(t, []string{"ACLED", "IOM DTM"}, ix.Sources())
	assert.Equal(t, 4, ix.Len())
	assert.Empty(t, ix.Entries("ReliefWeb"))
}

func TestLoadFile_Fixture(t *testing.T) {
	ix, err := LoadFile("testdata/sudan.yaml")
	require.NoError(t, err)

	loc, ok := ix.Location("SD02")
	require.True(t, ok)
	assert.Equal(t, "North Darfur", loc.Name)
	assert.Equal(t, domain.AdminState, loc.AdminLevel)

	idu := ix.Entries("IDMC IDU")
	require.NotEmpty(t, idu)
	assert.Equal(t, "Sudan", idu[0].Name)

	gidd := ix.Entries("IDMC GIDD")
	assert.Equal(t, "Kordofan", gidd[len(gidd)-1].Name, "explicit entries follow inline aliases")

	acled := ix.Entries("ACLED")
	assert.Equal(t, "El Fasher", acled[len(acled)-2].Name)
	assert.Equal(t, "Al Fasher", acled[len(acled)-1].Name)
}

func TestIndex_ByCode(t *testing.T) {
	ix, err := LoadFile("testdata/sudan.yaml")
	require.NoError(t, err)

	e, ok := ix.ByCode("sd02001", "IOM DTM")
	require.True(t, ok)
	assert.Equal(t, "SD02001", e.LocationID)

	_, ok = ix.ByCode("SD02001", "IDMC IDU")
	assert.False(t, ok, "codes are scoped to the source's entries")

	_, ok = ix.ByCode("", "IOM DTM")
	assert.False(t, ok)
}

func TestIndex_Ancestors(t *testing.T) {
	ix, err := LoadFile("testdata/sudan.yaml")
	require.NoError(t, err)

	chain := ix.Ancestors("SD02001")
	require.Len(t, chain, 2)
	assert.Equal(t, "SD02", chain[0].ID)
	assert.Equal(t, "SD", chain[1].ID)
	assert.Empty(t, ix.Ancestors("SD"))
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "no locations", yaml: "entries: []\n", wantErr: "Locations"},
		{name: "missing name", yaml: "locations:\n  - id: SD\n", wantErr: "Name"},
		{name: "admin level out of range", yaml: "locations:\n  - id: SD\n    name: Sudan\n    admin_level: 7\n", wantErr: "AdminLevel"},
		{name: "parent listed after child", yaml: "locations:\n  - id: SD02\n    name: North Darfur\n    parent: SD\n  - id: SD\n    name: Sudan\n", wantErr: "unknown parent"},
		{name: "entry for unknown location", yaml: "locations:\n  - id: SD\n    name: Sudan\nentries:\n  - name: Darfur\n    source: ACLED\n    location: SD99\n", wantErr: "unknown location"},
		{name: "not yaml", yaml: "locations: [", wantErr: "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(t.TempDir() + "/nope.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
