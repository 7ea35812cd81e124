package domain

import (
	"errors"
	"fmt"
	"time"
)

// PeriodKind classifies the time span of an observation.
type PeriodKind string

const (
	PeriodEvent  PeriodKind = "event"
	PeriodSpan   PeriodKind = "period"
	PeriodYearly PeriodKind = "year"
)

// Variable is one measurable series published by a source.
type Variable struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Source string `json:"source"`
	Unit   string `json:"unit"`
}

// Observation is the normalized output unit of the pipeline.
type Observation struct {
	SourceRecordID   string     `json:"source_record_id"`
	Source           string     `json:"source"`
	VariableCode     string     `json:"variable_code"`
	Location         Location   `json:"location"`
	OriginalLocation string     `json:"original_location,omitempty"`
	Value            float64    `json:"value"`
	Unit             string     `json:"unit"`
	Period           PeriodKind `json:"period_kind"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	Text             string     `json:"text"`
	ProcessedAt      time.Time  `json:"processed_at"`
}

// ObservationKey is the idempotence key used by observation stores.
type ObservationKey struct {
	SourceRecordID string
	VariableCode   string
}

// Key returns the store upsert key for o.
func (o Observation) Key() ObservationKey {
	return ObservationKey{SourceRecordID: o.SourceRecordID, VariableCode: o.VariableCode}
}

// Validate checks the invariants every persisted observation must hold.
func (o Observation) Validate() error {
	var errs []error
	if o.SourceRecordID == "" {
		errs = append(errs, errors.New("source_record_id is empty"))
	}
	if o.VariableCode == "" {
		errs = append(errs, errors.New("variable_code is empty"))
	}
	if o.Location.IsZero() {
		errs = append(errs, errors.New("location is empty"))
	}
	if o.Value < 0 {
		errs = append(errs, fmt.Errorf("value %g is negative", o.Value))
	}
	if o.StartDate.IsZero() || o.EndDate.IsZero() {
		errs = append(errs, errors.New("start_date and end_date are required"))
	} else if o.EndDate.Before(o.StartDate) {
		errs = append(errs, fmt.Errorf("end_date %s before start_date %s",
			o.EndDate.Format(DateLayout), o.StartDate.Format(DateLayout)))
	}
	switch o.Period {
	case PeriodEvent, PeriodSpan, PeriodYearly:
	default:
		errs = append(errs, fmt.Errorf("unknown period kind %q", o.Period))
	}
	return errors.Join(errs...)
}

// RawBatch is a handle to one verbatim provider response held in the raw store.
type RawBatch struct {
	Source      string    `json:"source"`
	Variable    string    `json:"variable"`
	Path        string    `json:"path"`
	Body        []byte    `json:"-"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// ProcessingResult summarizes one process call for a (source, variable) pair.
type ProcessingResult struct {
	Processed    int
	Skipped      int
	Errors       []error
	Observations []Observation
}

// Add appends an observation and counts it as processed.
func (r *ProcessingResult) Add(o Observation) {
	if o.ProcessedAt.IsZero() {
		o.ProcessedAt = Now()
	}
	r.Observations = append(r.Observations, o)
	r.Processed++
}

// Skip counts a record that was dropped on purpose, e.g. filtered or unmatched.
func (r *ProcessingResult) Skip() {
	r.Skipped++
}

// Fail records a per-record error.
func (r *ProcessingResult) Fail(err error) {
	r.Errors = append(r.Errors, err)
}
