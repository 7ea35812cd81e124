package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in observations and provider params.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate parses the date forms providers emit and truncates to a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Day truncates t to midnight UTC of the calendar day it names in its own zone.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// YearSpan returns Jan 1 and Dec 31 of year.
func YearSpan(year int) (time.Time, time.Time) {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// PeriodFor classifies a span as a single-day event or a multi-day period.
func PeriodFor(start, end time.Time) PeriodKind {
	if Day(start).Equal(Day(end)) {
		return PeriodEvent
	}
	return PeriodSpan
}

// DateRange resolves provider start/end fields. A missing end collapses to start;
// an end before start is rejected.
func DateRange(start, end string) (time.Time, time.Time, error) {
	s, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if strings.TrimSpace(end) == "" {
		return s, s, nil
	}
	e, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s before start %s", e.Format(DateLayout), s.Format(DateLayout))
	}
	return s, e, nil
}
