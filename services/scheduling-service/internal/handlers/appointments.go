package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/notify"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/schedule"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

type AppointmentsHandler struct {
	mgr    *schedule.Manager
	sender notify.Sender
	logger *slog.Logger
}

func NewAppointmentsHandler(mgr *schedule.Manager, sender notify.Sender, logger *slog.Logger) *AppointmentsHandler {
	return &AppointmentsHandler{
		mgr:    mgr,
		sender: sender,
		logger: logger,
	}
}

type appointmentRequest struct {
	Title             string `json:"title"`
	Date              string `json:"date"`
	Time              string `json:"time"`
	DurationMinutes   int    `json:"duration_minutes"`
	Type              string `json:"type"`
	SubjectName       string `json:"subject_name"`
	Notes             string `json:"notes"`
	Location          string `json:"location"`
	ExternalThreadRef string `json:"external_thread_ref"`
}

type editAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	appointmentRequest
	Status       string `json:"status"`
	ReminderSent *bool  `json:"reminder_sent"`
}

type recurringAppointmentRequest struct {
	Frequency       string `json:"frequency"`
	StartDate       string `json:"start_date"`
	OccurrenceCount int    `json:"occurrence_count"`
	Title           string `json:"title"`
	SubjectName     string `json:"subject_name"`
	Type            string `json:"type"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
	Location        string `json:"location"`
}

type changeStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type appointmentItem struct {
	AppointmentID     string `json:"appointment_id"`
	Title             string `json:"title"`
	Date              string `json:"date"`
	Time              string `json:"time"`
	DurationMinutes   int    `json:"duration_minutes"`
	Type              string `json:"type,omitempty"`
	SubjectName       string `json:"subject_name"`
	Status            string `json:"status"`
	Notes             string `json:"notes,omitempty"`
	Location          string `json:"location,omitempty"`
	RecurrenceGroupID string `json:"recurrence_group_id,omitempty"`
	ReminderSent      bool   `json:"reminder_sent"`
	ExternalThreadRef string `json:"external_thread_ref,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type reminderResponse struct {
	AppointmentID string `json:"appointment_id"`
	ReminderSent  bool   `json:"reminder_sent"`
	ProviderID    string `json:"provider_id,omitempty"`
}

func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	in, err := inputFromRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appt, err := h.mgr.Create(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, itemFromAppointment(appt))
}

func (h *AppointmentsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req editAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	in, err := inputFromRequest(req.appointmentRequest)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	edit := schedule.EditInput{Input: in, ReminderSent: req.ReminderSent}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		edit.Status = &status
	}

	appt, err := h.mgr.Edit(r.Context(), req.AppointmentID, edit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, itemFromAppointment(appt))
}

func (h *AppointmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	// Deletion is idempotent; an unknown ID is not an error.
	h.mgr.Delete(r.Context(), req.AppointmentID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentsHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req recurringAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	freq, err := model.ParseFrequency(req.Frequency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	startDate, err := time.ParseInLocation(dateLayout, strings.TrimSpace(req.StartDate), time.UTC)
	if err != nil {
		http.Error(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	startMinutes, err := parseClock(req.Time)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	batch, err := h.mgr.BulkCreateFromRecurrence(r.Context(), model.RecurrencePattern{
		Frequency:       freq,
		StartDate:       startDate,
		OccurrenceCount: req.OccurrenceCount,
		Title:           req.Title,
		SubjectName:     req.SubjectName,
		Type:            req.Type,
		StartMinutes:    startMinutes,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
		Location:        req.Location,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]appointmentItem, 0, len(batch))
	for _, appt := range batch {
		items = append(items, itemFromAppointment(appt))
	}
	writeJSON(w, http.StatusCreated, items)
}

func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	fromRaw := strings.TrimSpace(q.Get("from"))
	toRaw := strings.TrimSpace(q.Get("to"))
	statusRaw := strings.TrimSpace(q.Get("status"))

	var appts []model.Appointment
	switch {
	case fromRaw != "" || toRaw != "":
		if fromRaw == "" || toRaw == "" {
			http.Error(w, "from and to must be used together", http.StatusBadRequest)
			return
		}
		from, err := time.ParseInLocation(dateLayout, fromRaw, time.UTC)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		to, err := time.ParseInLocation(dateLayout, toRaw, time.UTC)
		if err != nil {
			http.Error(w, "invalid to date", http.StatusBadRequest)
			return
		}
		appts = h.mgr.ListByDateRange(from, to)
	case statusRaw != "":
		status, err := model.ParseStatus(statusRaw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		appts = h.mgr.ListByStatus(status)
	default:
		appts = h.mgr.ListAll()
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, itemFromAppointment(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentsHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appt, err := h.mgr.ChangeStatus(r.Context(), req.AppointmentID, status)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, itemFromAppointment(appt))
}

func (h *AppointmentsHandler) DispatchReminder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	appt, err := h.mgr.DispatchReminder(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := reminderResponse{
		AppointmentID: appt.ID,
		ReminderSent:  appt.ReminderSent,
	}
	if h.sender != nil {
		resp.ProviderID = h.sender.ProviderID()
		if err := h.sender.Send(r.Context(), appt); err != nil {
			// Delivery is fire-and-forget; the dispatch bookkeeping stands.
			h.logger.Error("reminder send failed", "err", err, "appointment_id", appt.ID)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AppointmentsHandler) writeDomainError(w http.ResponseWriter, err error) {
	var conflictErr *schedule.ConflictError
	if errors.As(err, &conflictErr) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":          "time slot already booked",
			"conflicting_id": conflictErr.ConflictingID,
		})
		return
	}
	if schedule.IsNotFound(err) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	if schedule.IsValidation(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error("scheduling operation failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func inputFromRequest(req appointmentRequest) (schedule.Input, error) {
	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(req.Date), time.UTC)
	if err != nil {
		return schedule.Input{}, errors.New("invalid date")
	}
	startMinutes, err := parseClock(req.Time)
	if err != nil {
		return schedule.Input{}, err
	}
	return schedule.Input{
		Title:             req.Title,
		Date:              date,
		StartMinutes:      startMinutes,
		DurationMinutes:   req.DurationMinutes,
		Type:              req.Type,
		SubjectName:       req.SubjectName,
		Notes:             req.Notes,
		Location:          req.Location,
		ExternalThreadRef: req.ExternalThreadRef,
	}, nil
}

func parseClock(raw string) (int, error) {
	clock, err := time.Parse(clockLayout, strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("invalid time (want HH:MM)")
	}
	return clock.Hour()*60 + clock.Minute(), nil
}

func minutesToClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func itemFromAppointment(appt model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:     appt.ID,
		Title:             appt.Title,
		Date:              appt.Date.UTC().Format(dateLayout),
		Time:              minutesToClock(appt.StartMinutes),
		DurationMinutes:   appt.DurationMinutes,
		Type:              appt.Type,
		SubjectName:       appt.SubjectName,
		Status:            string(appt.Status),
		Notes:             appt.Notes,
		Location:          appt.Location,
		RecurrenceGroupID: appt.RecurrenceGroupID,
		ReminderSent:      appt.ReminderSent,
		ExternalThreadRef: appt.ExternalThreadRef,
		CreatedAt:         appt.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
