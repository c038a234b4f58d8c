package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// ContextWithTx makes every PgRepository call made with the returned context run
// inside tx. Lockers use it so the locked work shares the lock's transaction.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

type PgRepository struct {
	pgAppointments
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pgAppointments: pgAppointments{q: pool}}
}

// pgAppointments runs on q, or on the transaction carried by ctx unless bound
// to an explicit transaction by WithTx.
type pgAppointments struct {
	q     querier
	bound bool
}

func (p pgAppointments) conn(ctx context.Context) querier {
	if !p.bound {
		if tx := txFromContext(ctx); tx != nil {
			return tx
		}
	}
	return p.q
}

const appointmentColumns = `
	id, pet_id, veterinarian_id, service_id, appointment_date, start_time, duration_minutes,
	reason, status, is_emergency, is_house_call, house_call_address, final_price_cents,
	confirmed_at, attention_started_at, attention_ended_at, cancelled_at,
	cancellation_reason, cancelled_by, rescheduled_from, created_at, updated_at`

// Helpers

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Duration() / time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start pgtype.Time
	var price int64

	err := row.Scan(
		&a.ID,
		&a.PetID,
		&a.VeterinarianID,
		&a.ServiceID,
		&a.Date,
		&start,
		&a.DurationMinutes,
		&a.Reason,
		&a.Status,
		&a.IsEmergency,
		&a.IsHouseCall,
		&a.HouseCallAddress,
		&price,
		&a.ConfirmedAt,
		&a.AttentionStartedAt,
		&a.AttentionEndedAt,
		&a.CancelledAt,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.RescheduledFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Date = DateOf(a.Date)
	a.StartTime = fromPgTime(start)
	a.FinalPrice = Money(price)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func notFound(entity string, id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return err
}

// Reference data

func (r *PgRepository) GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error) {
	var p Pet
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, owner_id, name, species, active, created_at, updated_at
		FROM pets
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound("pet", id, err)
	}
	return &p, nil
}

func (r *PgRepository) GetVeterinarianByID(ctx context.Context, id uuid.UUID) (*Veterinarian, error) {
	var v Veterinarian
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM veterinarians
		WHERE id = $1
	`, id).Scan(&v.ID, &v.Name, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, notFound("veterinarian", id, err)
	}
	return &v, nil
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	var s ClinicService
	var price int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, base_price_cents, standard_duration_minutes,
		       allows_house_call, allows_emergency, active, created_at, updated_at
		FROM clinic_services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &price, &s.StandardDurationMinutes,
		&s.AllowsHouseCall, &s.AllowsEmergency, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound("service", id, err)
	}
	s.BasePrice = Money(price)
	return &s, nil
}

func (r *PgRepository) ListWindows(ctx context.Context, vetID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, veterinarian_id, weekday, window_start, window_end, slot_minutes, max_concurrent, active
		FROM availability_windows
		WHERE veterinarian_id = $1 AND weekday = $2
		ORDER BY window_start
	`, vetID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		var w AvailabilityWindow
		var weekday int
		var start, end pgtype.Time
		if err := rows.Scan(&w.ID, &w.VeterinarianID, &weekday, &start, &end, &w.SlotMinutes, &w.MaxConcurrent, &w.Active); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		w.Start = fromPgTime(start)
		w.End = fromPgTime(end)
		result = append(result, w)
	}
	return result, rows.Err()
}

// CreateWindow is the administrative write path for availability.
func (r *PgRepository) CreateWindow(ctx context.Context, w *AvailabilityWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO availability_windows
			(id, veterinarian_id, weekday, window_start, window_end, slot_minutes, max_concurrent, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.VeterinarianID, int(w.Weekday), toPgTime(w.Start), toPgTime(w.End), w.SlotMinutes, w.MaxConcurrent, w.Active)
	if err != nil {
		return fmt.Errorf("insert availability window: %w", err)
	}
	return nil
}

func (r *PgRepository) ListOpenAppointments(ctx context.Context, onOrBefore time.Time) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('SCHEDULED', 'CONFIRMED')
		  AND appointment_date <= $1
		ORDER BY appointment_date, start_time
	`, DateOf(onOrBefore))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// WithTx nests as a savepoint when ctx already carries a transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(tx AppointmentStore) error) error {
	return pgx.BeginFunc(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		return fn(pgAppointments{q: tx, bound: true})
	})
}

// Appointments

func (p pgAppointments) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := p.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, notFound("appointment", id, err)
	}
	return a, nil
}

func (p pgAppointments) ListAppointmentsByVetDate(ctx context.Context, vetID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE veterinarian_id = $1 AND appointment_date = $2
		ORDER BY start_time
	`, vetID, DateOf(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (p pgAppointments) InsertAppointment(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}

	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`,
		appt.ID, appt.PetID, appt.VeterinarianID, appt.ServiceID, DateOf(appt.Date), toPgTime(appt.StartTime),
		appt.DurationMinutes, appt.Reason, appt.Status, appt.IsEmergency, appt.IsHouseCall, appt.HouseCallAddress,
		int64(appt.FinalPrice), appt.ConfirmedAt, appt.AttentionStartedAt, appt.AttentionEndedAt, appt.CancelledAt,
		appt.CancellationReason, appt.CancelledBy, appt.RescheduledFrom, appt.CreatedAt, appt.UpdatedAt,
	)
	return err
}

// UpdateAppointment writes the lifecycle columns. Scheduling columns never change in place.
func (p pgAppointments) UpdateAppointment(ctx context.Context, appt *Appointment, from Status) error {
	tag, err := p.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET status = $3,
		    confirmed_at = $4,
		    attention_started_at = $5,
		    attention_ended_at = $6,
		    cancelled_at = $7,
		    cancellation_reason = $8,
		    cancelled_by = $9,
		    updated_at = $10
		WHERE id = $1
		  AND status = $2
	`, appt.ID, from, appt.Status, appt.ConfirmedAt, appt.AttentionStartedAt, appt.AttentionEndedAt,
		appt.CancelledAt, appt.CancellationReason, appt.CancelledBy, appt.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := p.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, appt.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return &NotFoundError{Entity: "appointment", ID: appt.ID}
	}
	return ErrStaleAppointment
}

func (p pgAppointments) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
