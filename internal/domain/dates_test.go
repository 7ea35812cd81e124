package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2023, time.October, 12, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		input string
	}{
		{"calendar date", "2023-10-12"},
		{"rfc3339 utc", "2023-10-12T08:30:00Z"},
		{"rfc3339 offset keeps local day", "2023-10-12T01:00:00+03:00"},
		{"fractional seconds", "2023-10-12T08:30:00.123Z"},
		{"naive timestamp", "2023-10-12T23:59:59"},
		{"space separated", "2023-10-12 10:00:00"},
		{"surrounding whitespace", "  2023-10-12 "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "12/10/2023", "not a date", "2023-13-01"} {
		_, err := ParseDate(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestDateRange(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, time.February, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		start, end string
		wantStart  time.Time
		wantEnd    time.Time
		wantErr    bool
	}{
		{name: "single date", start: "2025-02-10", wantStart: day(10), wantEnd: day(10)},
		{name: "span", start: "2025-02-10", end: "2025-02-12", wantStart: day(10), wantEnd: day(12)},
		{name: "same day", start: "2025-02-10", end: "2025-02-10", wantStart: day(10), wantEnd: day(10)},
		{name: "end before start", start: "2025-02-12", end: "2025-02-10", wantErr: true},
		{name: "missing start", start: "", end: "2025-02-10", wantErr: true},
		{name: "bad end", start: "2025-02-10", end: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e, err := DateRange(tt.start, tt.end)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, s)
			assert.Equal(t, tt.wantEnd, e)
		})
	}
}

func TestPeriodFor(t *testing.T) {
	a := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, PeriodEvent, PeriodFor(a, a))
	assert.Equal(t, PeriodEvent, PeriodFor(a, a.Add(5*time.Hour)))
	assert.Equal(t, PeriodSpan, PeriodFor(a, a.AddDate(0, 0, 2)))
}

func TestYearSpan(t *testing.T) {
	s, e := YearSpan(2024)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), e)
}
