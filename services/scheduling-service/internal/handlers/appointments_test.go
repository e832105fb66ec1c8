package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/schedule"
)

type capturingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *capturingSender) Send(_ context.Context, appt model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, appt.ID)
	return nil
}

func (s *capturingSender) ProviderID() string { return "capture" }

func newTestHandler(t *testing.T) (*AppointmentsHandler, *capturingSender) {
	t.Helper()
	mgr := schedule.NewManager(slog.Default(), nil, schedule.Options{})
	sender := &capturingSender{}
	return NewAppointmentsHandler(mgr, sender, slog.Default()), sender
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeItem(t *testing.T, rec *httptest.ResponseRecorder) appointmentItem {
	t.Helper()
	var item appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return item
}

func createAppointment(t *testing.T, h *AppointmentsHandler, date, clock string, durationMinutes int) appointmentItem {
	t.Helper()
	rec := postJSON(t, h.Create, "/api/v1/appointments", appointmentRequest{
		Title:           "Consultation",
		Date:            date,
		Time:            clock,
		DurationMinutes: durationMinutes,
		SubjectName:     "Jordan Reyes",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	return decodeItem(t, rec)
}

func TestCreate_Returns201WithItem(t *testing.T) {
	h, _ := newTestHandler(t)

	item := createAppointment(t, h, "2024-05-01", "09:30", 45)
	if item.AppointmentID == "" {
		t.Fatal("expected an appointment id")
	}
	if item.Date != "2024-05-01" || item.Time != "09:30" || item.DurationMinutes != 45 {
		t.Fatalf("unexpected slot in response: %+v", item)
	}
	if item.Status != "upcoming" {
		t.Fatalf("expected upcoming, got %s", item.Status)
	}
	if item.ReminderSent {
		t.Fatal("reminder_sent must start false")
	}
}

func TestCreate_ConflictReturns409WithConflictingID(t *testing.T) {
	h, _ := newTestHandler(t)

	first := createAppointment(t, h, "2024-05-01", "09:00", 60)
	rec := postJSON(t, h.Create, "/api/v1/appointments", appointmentRequest{
		Title:       "Consultation",
		Date:        "2024-05-01",
		Time:        "09:30",
		SubjectName: "Jordan Reyes",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode conflict body: %v", err)
	}
	if payload["conflicting_id"] != first.AppointmentID {
		t.Fatalf("expected conflicting_id %s, got %s", first.AppointmentID, payload["conflicting_id"])
	}
}

func TestCreate_BadRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.Create, "/api/v1/appointments", appointmentRequest{
		Title:       "Consultation",
		Date:        "05/01/2024",
		Time:        "09:00",
		SubjectName: "Jordan Reyes",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", rec.Code)
	}

	rec = postJSON(t, h.Create, "/api/v1/appointments", appointmentRequest{
		Title:       "Consultation",
		Date:        "2024-05-01",
		Time:        "9 am",
		SubjectName: "Jordan Reyes",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad time: expected 400, got %d", rec.Code)
	}

	// Valid wire format but missing a required field.
	rec = postJSON(t, h.Create, "/api/v1/appointments", appointmentRequest{
		Date:        "2024-05-01",
		Time:        "09:00",
		SubjectName: "Jordan Reyes",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing title: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: expected 400, got %d", rec.Code)
	}
}

func TestCreate_RejectsNonPost(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestEdit_MovesAppointment(t *testing.T) {
	h, _ := newTestHandler(t)

	created := createAppointment(t, h, "2024-05-01", "09:00", 30)
	rec := postJSON(t, h.Edit, "/api/v1/appointments/edit", editAppointmentRequest{
		AppointmentID: created.AppointmentID,
		appointmentRequest: appointmentRequest{
			Title:           "Consultation",
			Date:            "2024-05-02",
			Time:            "10:00",
			DurationMinutes: 30,
			SubjectName:     "Jordan Reyes",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	item := decodeItem(t, rec)
	if item.AppointmentID != created.AppointmentID {
		t.Fatal("edit must preserve the id")
	}
	if item.Date != "2024-05-02" || item.Time != "10:00" {
		t.Fatalf("unexpected slot after edit: %+v", item)
	}
}

func TestEdit_UnknownIDReturns404(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.Edit, "/api/v1/appointments/edit", editAppointmentRequest{
		AppointmentID: "missing",
		appointmentRequest: appointmentRequest{
			Title:       "Consultation",
			Date:        "2024-05-01",
			Time:        "09:00",
			SubjectName: "Jordan Reyes",
		},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEdit_MissingIDReturns400(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.Edit, "/api/v1/appointments/edit", editAppointmentRequest{
		appointmentRequest: appointmentRequest{
			Title:       "Consultation",
			Date:        "2024-05-01",
			Time:        "09:00",
			SubjectName: "Jordan Reyes",
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDelete_Returns204AndIsIdempotent(t *testing.T) {
	h, _ := newTestHandler(t)

	created := createAppointment(t, h, "2024-05-01", "09:00", 30)

	rec := postJSON(t, h.Delete, "/api/v1/appointments/delete", appointmentIDRequest{AppointmentID: created.AppointmentID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	// Second delete of the same id is still a success.
	rec = postJSON(t, h.Delete, "/api/v1/appointments/delete", appointmentIDRequest{AppointmentID: created.AppointmentID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("repeat delete: expected 204, got %d", rec.Code)
	}
}

func TestCreateRecurring_Returns201Array(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.CreateRecurring, "/api/v1/appointments/recurring", recurringAppointmentRequest{
		Frequency:       "weekly",
		StartDate:       "2024-01-01",
		OccurrenceCount: 4,
		Title:           "Follow-up",
		SubjectName:     "Jordan Reyes",
		Time:            "10:00",
		DurationMinutes: 60,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	var items []appointmentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	wantDates := []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22"}
	group := items[0].RecurrenceGroupID
	if group == "" {
		t.Fatal("expected a recurrence group id")
	}
	for i, item := range items {
		if item.Date != wantDates[i] {
			t.Fatalf("item %d: expected date %s, got %s", i, wantDates[i], item.Date)
		}
		if item.RecurrenceGroupID != group {
			t.Fatal("batch must share one recurrence group id")
		}
	}
}

func TestCreateRecurring_UnknownFrequencyReturns400(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.CreateRecurring, "/api/v1/appointments/recurring", recurringAppointmentRequest{
		Frequency:       "yearly",
		StartDate:       "2024-01-01",
		OccurrenceCount: 2,
		Title:           "Follow-up",
		SubjectName:     "Jordan Reyes",
		Time:            "10:00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChangeStatus_Returns200(t *testing.T) {
	h, _ := newTestHandler(t)

	created := createAppointment(t, h, "2024-05-01", "09:00", 30)
	rec := postJSON(t, h.ChangeStatus, "/api/v1/appointments/status", changeStatusRequest{
		AppointmentID: created.AppointmentID,
		Status:        "completed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if item := decodeItem(t, rec); item.Status != "completed" {
		t.Fatalf("expected completed, got %s", item.Status)
	}

	rec = postJSON(t, h.ChangeStatus, "/api/v1/appointments/status", changeStatusRequest{
		AppointmentID: created.AppointmentID,
		Status:        "archived",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", rec.Code)
	}
}

func TestDispatchReminder_MarksAndSends(t *testing.T) {
	h, sender := newTestHandler(t)

	created := createAppointment(t, h, "2024-05-01", "09:00", 30)

	rec := postJSON(t, h.DispatchReminder, "/api/v1/appointments/reminder", appointmentIDRequest{AppointmentID: created.AppointmentID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp reminderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode reminder response: %v", err)
	}
	if !resp.ReminderSent || resp.AppointmentID != created.AppointmentID {
		t.Fatalf("unexpected reminder response: %+v", resp)
	}
	if resp.ProviderID != "capture" {
		t.Fatalf("expected provider id capture, got %s", resp.ProviderID)
	}

	// Repeat dispatch is a no-op for the flag but still succeeds.
	rec = postJSON(t, h.DispatchReminder, "/api/v1/appointments/reminder", appointmentIDRequest{AppointmentID: created.AppointmentID})
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat dispatch: expected 200, got %d", rec.Code)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 delivery attempts, got %d", len(sender.sent))
	}

	rec = postJSON(t, h.DispatchReminder, "/api/v1/appointments/reminder", appointmentIDRequest{AppointmentID: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", rec.Code)
	}
}

func TestList_FiltersAndOrdering(t *testing.T) {
	h, _ := newTestHandler(t)

	a := createAppointment(t, h, "2024-05-02", "09:00", 30)
	b := createAppointment(t, h, "2024-05-01", "14:00", 30)
	c := createAppointment(t, h, "2024-05-04", "09:00", 30)
	postJSON(t, h.ChangeStatus, "/api/v1/appointments/status", changeStatusRequest{AppointmentID: c.AppointmentID, Status: "cancelled"})

	listItems := func(query string) []appointmentItem {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments"+query, nil)
		rec := httptest.NewRecorder()
		h.List(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("list %q: expected 200, got %d (%s)", query, rec.Code, rec.Body.String())
		}
		var items []appointmentItem
		if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		return items
	}

	all := listItems("")
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	if all[0].AppointmentID != b.AppointmentID || all[1].AppointmentID != a.AppointmentID {
		t.Fatal("expected date-then-time ordering")
	}

	ranged := listItems(fmt.Sprintf("?from=%s&to=%s", "2024-05-01", "2024-05-02"))
	if len(ranged) != 2 {
		t.Fatalf("expected 2 in range, got %d", len(ranged))
	}

	cancelled := listItems("?status=cancelled")
	if len(cancelled) != 1 || cancelled[0].AppointmentID != c.AppointmentID {
		t.Fatalf("expected only the cancelled appointment, got %d", len(cancelled))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?from=2024-05-01", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("lone from: expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments?status=archived", nil)
	rec = httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", rec.Code)
	}
}
