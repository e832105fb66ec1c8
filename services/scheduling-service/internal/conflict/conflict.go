package conflict

import (
	"time"

	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// IntervalOf is the time span an appointment occupies. The end instant is a
// plain offset from the start; no day-rollover arithmetic is performed when a
// duration runs past midnight.
func IntervalOf(a model.Appointment) Interval {
	start := a.Date.Add(time.Duration(a.StartMinutes) * time.Minute)
	return Interval{
		Start: start,
		End:   start.Add(time.Duration(a.DurationMinutes) * time.Minute),
	}
}

// Overlaps reports whether two half-open intervals intersect:
// [a.Start,a.End) overlaps [b.Start,b.End) iff a.Start < b.End && b.Start < a.End.
// Touching intervals (a.End == b.Start) do not overlap, so back-to-back
// appointments are legal.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Find decides whether candidate may be committed against existing
// appointments. It is a pure predicate: cancelled appointments never block,
// the candidate never conflicts with its own ID (edits), appointments on other
// calendar days never conflict, and a cancelled candidate bypasses checking
// entirely. Returns the first conflicting appointment's ID.
func Find(candidate model.Appointment, existing []model.Appointment) (string, bool) {
	if candidate.Status == model.StatusCancelled {
		return "", false
	}

	want := IntervalOf(candidate)
	for _, e := range existing {
		if e.ID == candidate.ID {
			continue
		}
		if e.Status == model.StatusCancelled {
			continue
		}
		if !model.SameDay(e.Date, candidate.Date) {
			continue
		}
		if Overlaps(want, IntervalOf(e)) {
			return e.ID, true
		}
	}
	return "", false
}
