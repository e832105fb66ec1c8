package recurrence

import (
	"testing"
	"time"

	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func assertDates(t *testing.T, got []time.Time, want ...time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d dates, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("date %d: expected %s, got %s", i, want[i].Format("2006-01-02"), got[i].Format("2006-01-02"))
		}
	}
}

func TestDates_Weekly(t *testing.T) {
	got, err := Dates(model.FrequencyWeekly, day(2024, 1, 1), 4)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, got,
		day(2024, 1, 1),
		day(2024, 1, 8),
		day(2024, 1, 15),
		day(2024, 1, 22),
	)
}

func TestDates_Daily(t *testing.T) {
	got, err := Dates(model.FrequencyDaily, day(2024, 6, 1), 3)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, got, day(2024, 6, 1), day(2024, 6, 2), day(2024, 6, 3))
}

func TestDates_Biweekly(t *testing.T) {
	got, err := Dates(model.FrequencyBiweekly, day(2024, 1, 1), 3)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, got, day(2024, 1, 1), day(2024, 1, 15), day(2024, 1, 29))
}

func TestDates_MonthlyClampsToLeapDay(t *testing.T) {
	got, err := Dates(model.FrequencyMonthly, day(2024, 1, 31), 2)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	// 2024 is a leap year; Jan 31 clamps to Feb 29, not an invalid Feb 31.
	assertDates(t, got, day(2024, 1, 31), day(2024, 2, 29))
}

func TestDates_MonthlyAdvancesFromClampedDate(t *testing.T) {
	got, err := Dates(model.FrequencyMonthly, day(2024, 1, 31), 3)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	// Each step advances from the previous element, so the clamp sticks.
	assertDates(t, got, day(2024, 1, 31), day(2024, 2, 29), day(2024, 3, 29))
}

func TestDates_MonthlyNonLeapFebruary(t *testing.T) {
	got, err := Dates(model.FrequencyMonthly, day(2023, 1, 31), 2)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, got, day(2023, 1, 31), day(2023, 2, 28))
}

func TestDates_MonthlyYearRollover(t *testing.T) {
	got, err := Dates(model.FrequencyMonthly, day(2024, 11, 15), 3)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, got, day(2024, 11, 15), day(2024, 12, 15), day(2025, 1, 15))
}

func TestDates_DailyAcrossMonthBoundary(t *testing.T) {
	got, err := Dates(model.FrequencyDaily, day(2024, 1, 30), 3)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, got, day(2024, 1, 30), day(2024, 1, 31), day(2024, 2, 1))
}

func TestDates_Deterministic(t *testing.T) {
	a, err := Dates(model.FrequencyWeekly, day(2024, 3, 4), 5)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	b, err := Dates(model.FrequencyWeekly, day(2024, 3, 4), 5)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, a, b...)
}

func TestDates_NormalizesStartToMidnight(t *testing.T) {
	start := time.Date(2024, 6, 1, 13, 45, 12, 0, time.UTC)
	got, err := Dates(model.FrequencyDaily, start, 1)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	assertDates(t, got, day(2024, 6, 1))
}

func TestDates_RejectsNonPositiveCount(t *testing.T) {
	if _, err := Dates(model.FrequencyDaily, day(2024, 1, 1), 0); err == nil {
		t.Fatal("expected error for zero count")
	}
	if _, err := Dates(model.FrequencyDaily, day(2024, 1, 1), -2); err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestDates_RejectsUnknownFrequency(t *testing.T) {
	if _, err := Dates(model.Frequency("yearly"), day(2024, 1, 1), 2); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}
