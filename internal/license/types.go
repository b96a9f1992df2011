package license

import (
	"fmt"
	"time"
)

// DateLayout is the dd-MM-yyyy form used by license artifacts and verdicts.
const DateLayout = "02-01-2006"

// DefaultRegion is used when a verdict or record carries no region.
const DefaultRegion = "Asia/Kolkata"

// Status is the lifecycle state of a stored license record.
type Status string

const (
	StatusValid   Status = "valid"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// rank orders statuses along the only permitted direction of travel.
func (s Status) rank() int {
	switch s {
	case StatusValid:
		return 0
	case StatusActive:
		return 1
	case StatusExpired:
		return 2
	default:
		return -1
	}
}

// IsKnown reports whether s is one of the lifecycle statuses.
func (s Status) IsKnown() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving from s to next goes forward.
func (s Status) CanTransitionTo(next Status) bool {
	return s.IsKnown() && next.IsKnown() && next.rank() > s.rank()
}

// Record is a persisted license validity window.
type Record struct {
	ID        int64     `db:"id" json:"id"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Region    string    `db:"region" json:"region"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Verdict values emitted by the verifier. Anything other than VerdictValid is
// a negative verdict.
const (
	VerdictValid    = "valid"
	VerdictInvalid  = "invalid"
	VerdictInactive = "inactive"
	VerdictExpired  = "expired"
)

// Verdict is the JSON object printed by the verifier executable.
type Verdict struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Region    string `json:"region,omitempty"`
}

// IsValid reports whether the verifier accepted the artifact.
func (v *Verdict) IsValid() bool {
	return v != nil && v.Status == VerdictValid
}

// ActivationResult is returned by Engine.Activate for every structurally
// successful verification, positive or negative.
type ActivationResult struct {
	Verdict *Verdict `json:"verdict"`
	// Record is set for valid verdicts, also when it could not be persisted.
	Record    *Record `json:"record,omitempty"`
	Persisted bool    `json:"persisted"`
	// PersistError holds the swallowed store failure, if any.
	PersistError error `json:"-"`
}

// StartOfDay returns 00:00:00 of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59 of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}

// EndBoundary returns the first instant after t's calendar day in loc. A
// window ending on that day is over once now reaches the boundary, so the
// whole of 23:59:59 still counts as inside.
func EndBoundary(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// NormalizeWindow widens start and end to whole days in loc and returns both
// as UTC instants, ready for storage.
func NormalizeWindow(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	return StartOfDay(start, loc).UTC(), EndOfDay(end, loc).UTC()
}

// ParseWindow parses dd-MM-yyyy start and end dates in loc and normalizes them.
func ParseWindow(startDate, endDate string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, startDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start date %q: %w", startDate, err)
	}

	end, err := time.ParseInLocation(DateLayout, endDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end date %q: %w", endDate, err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", endDate, startDate)
	}

	s, e := NormalizeWindow(start, end, loc)
	return s, e, nil
}
