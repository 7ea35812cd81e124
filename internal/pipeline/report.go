package pipeline

import "time"

// UnitStatus is the outcome of one (source, variable) unit.
type UnitStatus string

const (
	StatusOK      UnitStatus = "ok"
	StatusFailed  UnitStatus = "failed"
	StatusSkipped UnitStatus = "skipped"
)

// UnitReport summarizes one (source, variable) unit.
type UnitReport struct {
	Source    string        `json:"source"`
	Variable  string        `json:"variable"`
	Status    UnitStatus    `json:"status"`
	Attempts  int           `json:"attempts"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Saved     int           `json:"saved"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Err       error         `json:"-"`
}

func (u *UnitReport) fail(err error) {
	u.Status = StatusFailed
	u.Err = err
	u.Error = err.Error()
}

func (u *UnitReport) skip(err error) {
	u.Status = StatusSkipped
	u.Err = err
	u.Error = err.Error()
}

// RunReport summarizes one orchestrator run.
type RunReport struct {
	ID       string       `json:"id"`
	Mode     string       `json:"mode"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Units    []UnitReport `json:"units"`
}

// Count returns the number of units with status s.
func (r RunReport) Count(s UnitStatus) int {
	n := 0
	for _, u := range r.Units {
		if u.Status == s {
			n++
		}
	}
	return n
}

// Observations returns the total processed observations across units.
func (r RunReport) Observations() int {
	n := 0
	for _, u := range r.Units {
		n += u.Processed
	}
	return n
}

// Unit returns the report for (source, variable).
func (r RunReport) Unit(source, variable string) (UnitReport, bool) {
	for _, u := range r.Units {
		if u.Source == source && u.Variable == variable {
			return u, true
		}
	}
	return UnitReport{}, false
}
