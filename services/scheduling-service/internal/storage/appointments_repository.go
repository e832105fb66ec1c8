package storage

import (
	"context"

	"github.com/careloop/crm-scheduling/libs/db"
	"github.com/careloop/crm-scheduling/services/scheduling-service/internal/model"
)

// AppointmentsRepository mirrors the in-memory collection into Postgres for
// durability. It implements schedule.Store; the manager treats it as
// fire-and-forget, so every write is an upsert keyed by appointment ID.
type AppointmentsRepository struct {
	pool *db.Pool
}

func NewAppointmentsRepository(pool *db.Pool) *AppointmentsRepository {
	return &AppointmentsRepository{pool: pool}
}

func (r *AppointmentsRepository) Persist(ctx context.Context, appt model.Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments
			(id, title, date, start_minutes, duration_minutes, type, subject_name,
			 status, notes, location, recurrence_group_id, reminder_sent,
			 external_thread_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			date = EXCLUDED.date,
			start_minutes = EXCLUDED.start_minutes,
			duration_minutes = EXCLUDED.duration_minutes,
			type = EXCLUDED.type,
			subject_name = EXCLUDED.subject_name,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			location = EXCLUDED.location,
			recurrence_group_id = EXCLUDED.recurrence_group_id,
			reminder_sent = EXCLUDED.reminder_sent,
			external_thread_ref = EXCLUDED.external_thread_ref,
			updated_at = now()
	`, appt.ID, appt.Title, appt.Date, appt.StartMinutes, appt.DurationMinutes,
		appt.Type, appt.SubjectName, string(appt.Status), appt.Notes, appt.Location,
		appt.RecurrenceGroupID, appt.ReminderSent, appt.ExternalThreadRef, appt.CreatedAt)
	return err
}

func (r *AppointmentsRepository) Remove(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	return err
}

// Load returns every stored appointment, used to warm the in-memory collection
// at startup.
func (r *AppointmentsRepository) Load(ctx context.Context) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, date, start_minutes, duration_minutes, type, subject_name,
			status, notes, location, COALESCE(recurrence_group_id, ''), reminder_sent,
			external_thread_ref, created_at
		FROM appointments
		ORDER BY date, start_minutes
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var status string
		if err := rows.Scan(
			&appt.ID,
			&appt.Title,
			&appt.Date,
			&appt.StartMinutes,
			&appt.DurationMinutes,
			&appt.Type,
			&appt.SubjectName,
			&status,
			&appt.Notes,
			&appt.Location,
			&appt.RecurrenceGroupID,
			&appt.ReminderSent,
			&appt.ExternalThreadRef,
			&appt.CreatedAt,
		); err != nil {
			return nil, err
		}
		appt.Status = model.Status(status)
		appt.Date = model.Day(appt.Date)
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
