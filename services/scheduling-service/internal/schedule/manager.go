package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/conflict"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/recurrence"
)

const defaultDurationMinutes = 60

// Store durably records appointments beyond process lifetime. The in-memory
// collection stays authoritative; store calls are best-effort and never fail
// an operation.
type Store interface {
	Persist(ctx context.Context, appt model.Appointment) error
	Remove(ctx context.Context, id string) error
}

type Options struct {
	// CheckRecurrenceConflicts opts batch creation into the same conflict
	// checking single create/edit performs. Off by default: unchecked batch
	// creation is the historical behaviour and callers may rely on it.
	CheckRecurrenceConflicts bool
}

// Manager is the only component with mutation authority over the appointment
// collection. One mutex serializes every mutation with the conflict check that
// precedes it, so a check-then-insert is atomic.
type Manager struct {
	mu     sync.Mutex
	appts  map[string]*model.Appointment
	store  Store
	logger *slog.Logger
	opts   Options
}

func NewManager(logger *slog.Logger, store Store, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		appts:  make(map[string]*model.Appointment),
		store:  store,
		logger: logger,
		opts:   opts,
	}
}

// Input carries the caller-settable fields of an appointment.
// A zero DurationMinutes means unspecified and defaults to 60.
type Input struct {
	Title             string
	Date              time.Time
	StartMinutes      int
	DurationMinutes   int
	Type              string
	SubjectName       string
	Notes             string
	Location          string
	ExternalThreadRef string
}

// EditInput is Input plus the two fields only an edit may touch. A nil Status
// keeps the current status. A ReminderSent override only ever applies the
// false-to-true transition; the flag never reverts.
type EditInput struct {
	Input
	Status       *model.Status
	ReminderSent *bool
}

func (m *Manager) Create(ctx context.Context, in Input) (model.Appointment, error) {
	in = normalizeInput(in)
	if err := validateInput(in); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:                uuid.NewString(),
		Title:             in.Title,
		Date:              model.Day(in.Date),
		StartMinutes:      in.StartMinutes,
		DurationMinutes:   in.DurationMinutes,
		Type:              in.Type,
		SubjectName:       in.SubjectName,
		Status:            model.StatusUpcoming,
		Notes:             in.Notes,
		Location:          in.Location,
		ExternalThreadRef: in.ExternalThreadRef,
		CreatedAt:         time.Now().UTC(),
	}

	m.mu.Lock()
	if _, dup := m.appts[appt.ID]; dup {
		m.mu.Unlock()
		panic(fmt.Sprintf("duplicate appointment id generated: %s", appt.ID))
	}
	if conflictingID, found := conflict.Find(appt, m.snapshotLocked()); found {
		m.mu.Unlock()
		return model.Appointment{}, &ConflictError{ConflictingID: conflictingID}
	}
	m.appts[appt.ID] = &appt
	out := appt
	m.mu.Unlock()

	m.persist(ctx, out)
	return out, nil
}

func (m *Manager) Edit(ctx context.Context, id string, in EditInput) (model.Appointment, error) {
	in.Input = normalizeInput(in.Input)
	if err := validateInput(in.Input); err != nil {
		return model.Appointment{}, err
	}
	if in.Status != nil {
		if _, err := model.ParseStatus(string(*in.Status)); err != nil {
			return model.Appointment{}, &ValidationError{Field: "status", Reason: err.Error()}
		}
	}

	m.mu.Lock()
	cur, ok := m.appts[id]
	if !ok {
		m.mu.Unlock()
		return model.Appointment{}, &NotFoundError{ID: id}
	}

	updated := *cur
	updated.Title = in.Title
	updated.Date = model.Day(in.Date)
	updated.StartMinutes = in.StartMinutes
	updated.DurationMinutes = in.DurationMinutes
	updated.Type = in.Type
	updated.SubjectName = in.SubjectName
	updated.Notes = in.Notes
	updated.Location = in.Location
	updated.ExternalThreadRef = in.ExternalThreadRef
	if in.Status != nil {
		updated.Status = *in.Status
	}
	if in.ReminderSent != nil && *in.ReminderSent && !updated.ReminderSent {
		updated.ReminderSent = true
	}

	// conflict.Find excludes the appointment's own ID, so an unmoved
	// appointment never conflicts with itself, and a cancelled target
	// bypasses checking entirely.
	if conflictingID, found := conflict.Find(updated, m.snapshotLocked()); found {
		m.mu.Unlock()
		return model.Appointment{}, &ConflictError{ConflictingID: conflictingID}
	}

	*cur = updated
	out := updated
	m.mu.Unlock()

	m.persist(ctx, out)
	return out, nil
}

// BulkCreateFromRecurrence expands the pattern and inserts one appointment per
// date, all sharing a fresh recurrence group ID. It either inserts all
// occurrences or none. Conflict checking is skipped unless
// Options.CheckRecurrenceConflicts is set.
func (m *Manager) BulkCreateFromRecurrence(ctx context.Context, p model.RecurrencePattern) ([]model.Appointment, error) {
	base := normalizeInput(Input{
		Title:           p.Title,
		Date:            p.StartDate,
		StartMinutes:    p.StartMinutes,
		DurationMinutes: p.DurationMinutes,
		Type:            p.Type,
		SubjectName:     p.SubjectName,
		Notes:           p.Notes,
		Location:        p.Location,
	})
	if err := validateInput(base); err != nil {
		return nil, err
	}
	if p.OccurrenceCount <= 0 {
		return nil, &ValidationError{Field: "occurrenceCount", Reason: "must be positive"}
	}

	dates, err := recurrence.Dates(p.Frequency, p.StartDate, p.OccurrenceCount)
	if err != nil {
		return nil, &ValidationError{Field: "frequency", Reason: err.Error()}
	}

	groupID := uuid.NewString()
	now := time.Now().UTC()
	batch := make([]model.Appointment, 0, len(dates))
	for _, date := range dates {
		batch = append(batch, model.Appointment{
			ID:                uuid.NewString(),
			Title:             base.Title,
			Date:              date,
			StartMinutes:      base.StartMinutes,
			DurationMinutes:   base.DurationMinutes,
			Type:              base.Type,
			SubjectName:       base.SubjectName,
			Status:            model.StatusUpcoming,
			Notes:             base.Notes,
			Location:          base.Location,
			RecurrenceGroupID: groupID,
			CreatedAt:         now,
		})
	}

	m.mu.Lock()
	for i := range batch {
		if _, dup := m.appts[batch[i].ID]; dup {
			m.mu.Unlock()
			panic(fmt.Sprintf("duplicate appointment id generated: %s", batch[i].ID))
		}
	}
	if m.opts.CheckRecurrenceConflicts {
		existing := m.snapshotLocked()
		for i := range batch {
			if conflictingID, found := conflict.Find(batch[i], existing); found {
				m.mu.Unlock()
				return nil, &ConflictError{ConflictingID: conflictingID}
			}
		}
	}
	for i := range batch {
		appt := batch[i]
		m.appts[appt.ID] = &appt
	}
	m.mu.Unlock()

	for _, appt := range batch {
		m.persist(ctx, appt)
	}
	return batch, nil
}

// Delete removes an appointment outright. Deleting an unknown ID is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) {
	m.mu.Lock()
	_, existed := m.appts[id]
	delete(m.appts, id)
	m.mu.Unlock()

	if !existed || m.store == nil {
		return
	}
	if err := m.store.Remove(ctx, id); err != nil {
		m.logger.Error("appointment remove failed", "err", err, "appointment_id", id)
	}
}

// ChangeStatus sets the status unconditionally; any transition is allowed.
// No conflict check runs, so re-activating a cancelled appointment can
// legitimately produce an overlap the next create would then reject.
func (m *Manager) ChangeStatus(ctx context.Context, id string, status model.Status) (model.Appointment, error) {
	if _, err := model.ParseStatus(string(status)); err != nil {
		return model.Appointment{}, &ValidationError{Field: "status", Reason: err.Error()}
	}

	m.mu.Lock()
	cur, ok := m.appts[id]
	if !ok {
		m.mu.Unlock()
		return model.Appointment{}, &NotFoundError{ID: id}
	}
	cur.Status = status
	out := *cur
	m.mu.Unlock()

	m.persist(ctx, out)
	return out, nil
}

// DispatchReminder marks the reminder as sent. The flag only ever goes
// false to true; repeat calls are no-ops. Delivery itself belongs to the
// notification collaborator, invoked by the caller after this succeeds.
func (m *Manager) DispatchReminder(ctx context.Context, id string) (model.Appointment, error) {
	m.mu.Lock()
	cur, ok := m.appts[id]
	if !ok {
		m.mu.Unlock()
		return model.Appointment{}, &NotFoundError{ID: id}
	}
	changed := !cur.ReminderSent
	cur.ReminderSent = true
	out := *cur
	m.mu.Unlock()

	if changed {
		m.persist(ctx, out)
	}
	return out, nil
}

// Restore seeds the collection, typically from the durable store at startup.
// No conflict checking runs: historical data may legitimately contain overlaps
// produced by unchecked batch creation.
func (m *Manager) Restore(appts []model.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, appt := range appts {
		if appt.ID == "" {
			continue
		}
		a := appt
		a.Date = model.Day(a.Date)
		m.appts[a.ID] = &a
	}
}

func (m *Manager) Get(id string) (model.Appointment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, false
	}
	return *cur, true
}

func (m *Manager) ListAll() []model.Appointment {
	m.mu.Lock()
	out := m.snapshotLocked()
	m.mu.Unlock()
	sortAppointments(out)
	return out
}

// ListByDateRange returns appointments on days within [from, to], inclusive at
// day granularity.
func (m *Manager) ListByDateRange(from, to time.Time) []model.Appointment {
	fromDay := model.Day(from)
	toDay := model.Day(to)

	m.mu.Lock()
	var out []model.Appointment
	for _, appt := range m.appts {
		if appt.Date.Before(fromDay) || appt.Date.After(toDay) {
			continue
		}
		out = append(out, *appt)
	}
	m.mu.Unlock()
	sortAppointments(out)
	return out
}

func (m *Manager) ListByStatus(status model.Status) []model.Appointment {
	m.mu.Lock()
	var out []model.Appointment
	for _, appt := range m.appts {
		if appt.Status != status {
			continue
		}
		out = append(out, *appt)
	}
	m.mu.Unlock()
	sortAppointments(out)
	return out
}

func (m *Manager) snapshotLocked() []model.Appointment {
	out := make([]model.Appointment, 0, len(m.appts))
	for _, appt := range m.appts {
		out = append(out, *appt)
	}
	return out
}

func (m *Manager) persist(ctx context.Context, appt model.Appointment) {
	if m.store == nil {
		return
	}
	if err := m.store.Persist(ctx, appt); err != nil {
		m.logger.Error("appointment persist failed", "err", err, "appointment_id", appt.ID)
	}
}

func normalizeInput(in Input) Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Type = strings.TrimSpace(in.Type)
	in.SubjectName = strings.TrimSpace(in.SubjectName)
	in.Notes = strings.TrimSpace(in.Notes)
	in.Location = strings.TrimSpace(in.Location)
	in.ExternalThreadRef = strings.TrimSpace(in.ExternalThreadRef)
	if in.DurationMinutes == 0 {
		in.DurationMinutes = defaultDurationMinutes
	}
	return in
}

func validateInput(in Input) error {
	if in.Title == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if in.SubjectName == "" {
		return &ValidationError{Field: "subjectName", Reason: "required"}
	}
	if in.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if in.StartMinutes < 0 || in.StartMinutes >= model.MinutesPerDay {
		return &ValidationError{Field: "time", Reason: "must be within the day"}
	}
	if in.DurationMinutes <= 0 {
		return &ValidationError{Field: "durationMinutes", Reason: "must be positive"}
	}
	return nil
}

func sortAppointments(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.Before(appts[j].Date)
		}
		if appts[i].StartMinutes != appts[j].StartMinutes {
			return appts[i].StartMinutes < appts[j].StartMinutes
		}
		return appts[i].ID < appts[j].ID
	})
}
