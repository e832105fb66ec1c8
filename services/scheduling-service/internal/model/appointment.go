package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an appointment. Cancelled appointments stay
// in the collection for history; deletion is a separate, explicit operation.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusUpcoming:
		return StatusUpcoming, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusCancelled:
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Frequency is the recurrence cadence for batch-created appointments.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

func ParseFrequency(raw string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(raw))) {
	case FrequencyDaily:
		return FrequencyDaily, nil
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case FrequencyBiweekly:
		return FrequencyBiweekly, nil
	case FrequencyMonthly:
		return FrequencyMonthly, nil
	}
	return "", fmt.Errorf("unknown frequency %q", raw)
}

const MinutesPerDay = 24 * 60

// Appointment occupies [Date+StartMinutes, Date+StartMinutes+DurationMinutes)
// on a single calendar day. Date carries day granularity only (UTC midnight);
// StartMinutes is minutes since midnight. Durations that would push the end past
// midnight are not rolled over to the next day.
type Appointment struct {
	ID                string
	Title             string
	Date              time.Time
	StartMinutes      int
	DurationMinutes   int
	Type              string
	SubjectName       string
	Status            Status
	Notes             string
	Location          string
	RecurrenceGroupID string
	ReminderSent      bool
	ExternalThreadRef string
	CreatedAt         time.Time
}

// Day normalizes t to midnight UTC, the canonical form for Appointment.Date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day (UTC).
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// RecurrencePattern expands into a batch of appointments sharing one
// recurrence group. It is transient input, never persisted.
type RecurrencePattern struct {
	Frequency       Frequency
	StartDate       time.Time
	OccurrenceCount int

	// Shared fields applied to every generated appointment.
	Title           string
	SubjectName     string
	Type            string
	StartMinutes    int
	DurationMinutes int
	Notes           string
	Location        string
}
