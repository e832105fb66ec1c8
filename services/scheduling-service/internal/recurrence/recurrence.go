package recurrence

import (
	"fmt"
	"time"

	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
)

// Dates expands a recurrence into exactly count ordered dates starting at
// start. The output is a pure function of its inputs.
//
// Monthly advancement keeps the day-of-month and clamps it to the last valid
// day of the target month (2024-01-31 advances to 2024-02-29). Each step
// advances from the previous element, so a clamped date stays clamped for the
// rest of the sequence (Feb 29 advances to Mar 29, not Mar 31).
func Dates(freq model.Frequency, start time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		return nil, fmt.Errorf("occurrence count must be positive (got %d)", count)
	}
	switch freq {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyBiweekly, model.FrequencyMonthly:
	default:
		return nil, fmt.Errorf("unknown frequency %q", freq)
	}

	dates := make([]time.Time, 0, count)
	dates = append(dates, model.Day(start))
	for len(dates) < count {
		dates = append(dates, advance(freq, dates[len(dates)-1]))
	}
	return dates, nil
}

func advance(freq model.Frequency, last time.Time) time.Time {
	switch freq {
	case model.FrequencyDaily:
		return last.AddDate(0, 0, 1)
	case model.FrequencyWeekly:
		return last.AddDate(0, 0, 7)
	case model.FrequencyBiweekly:
		return last.AddDate(0, 0, 14)
	case model.FrequencyMonthly:
		return addMonthClamped(last)
	}
	return last
}

// addMonthClamped moves to the same day-of-month one calendar month later,
// clamping to the target month's last day. time.AddDate would normalize
// Jan 31 + 1 month into Mar 2/3, which is not the behaviour we want.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	// Day 0 of month+2 is the last day of month+1; time.Date normalizes overflow.
	lastDay := time.Date(year, month+2, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month+1, day, 0, 0, 0, 0, time.UTC)
}
