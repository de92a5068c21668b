package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/codr1/courtbook/internal/booking"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL the booking store runs.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const courtColumns = `id, name, base_price_cents, price_multiplier, opens_at, closes_at, slot_minutes, is_active`

func scanCourt(row rowScanner) (booking.Court, error) {
	var (
		court    booking.Court
		opensAt  string
		closesAt string
	)
	if err := row.Scan(
		&court.ID,
		&court.Name,
		&court.BasePriceCents,
		&court.PriceMultiplier,
		&opensAt,
		&closesAt,
		&court.Hours.SlotMinutes,
		&court.IsActive,
	); err != nil {
		return booking.Court{}, err
	}
	var err error
	if court.Hours.Opens, err = booking.ParseTimeOfDay(opensAt); err != nil {
		return booking.Court{}, fmt.Errorf("court %d opens_at %q: %w", court.ID, opensAt, err)
	}
	if court.Hours.Closes, err = booking.ParseTimeOfDay(closesAt); err != nil {
		return booking.Court{}, fmt.Errorf("court %d closes_at %q: %w", court.ID, closesAt, err)
	}
	return court, nil
}

const getCourt = `SELECT ` + courtColumns + ` FROM courts WHERE id = ?`

func (q *Queries) GetCourt(ctx context.Context, id int64) (booking.Court, error) {
	return scanCourt(q.db.QueryRowContext(ctx, getCourt, id))
}

type CreateCourtParams struct {
	Name            string
	BasePriceCents  int64
	PriceMultiplier float64
	OpensAt         string
	ClosesAt        string
	SlotMinutes     int
	IsActive        bool
}

const createCourt = `
INSERT INTO courts (name, base_price_cents, price_multiplier, opens_at, closes_at, slot_minutes, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + courtColumns

func (q *Queries) CreateCourt(ctx context.Context, arg CreateCourtParams) (booking.Court, error) {
	return scanCourt(q.db.QueryRowContext(ctx, createCourt,
		arg.Name,
		arg.BasePriceCents,
		arg.PriceMultiplier,
		arg.OpensAt,
		arg.ClosesAt,
		arg.SlotMinutes,
		arg.IsActive,
	))
}

const bookingColumns = `id, court_id, user_id, booking_date, start_time, end_time, duration_minutes,
	total_price_cents, deposit_amount_cents, status, payment_status, payment_method, notes,
	cancellation_reason, cancelled_by, cancelled_at, refund_granted, refund_amount_cents,
	created_at, updated_at`

func scanBooking(row rowScanner) (booking.Booking, error) {
	var (
		b                  booking.Booking
		bookingDate        string
		startTime          string
		endTime            string
		paymentMethod      sql.NullString
		cancellationReason sql.NullString
		cancelledBy        sql.NullString
		cancelledAt        sql.NullTime
		refundGranted      sql.NullBool
	)
	if err := row.Scan(
		&b.ID,
		&b.CourtID,
		&b.UserID,
		&bookingDate,
		&startTime,
		&endTime,
		&b.DurationMinutes,
		&b.TotalPriceCents,
		&b.DepositAmountCents,
		&b.Status,
		&b.PaymentStatus,
		&paymentMethod,
		&b.Notes,
		&cancellationReason,
		&cancelledBy,
		&cancelledAt,
		&refundGranted,
		&b.RefundAmountCents,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return booking.Booking{}, err
	}

	var err error
	if b.BookingDate, err = booking.ParseDate(bookingDate); err != nil {
		return booking.Booking{}, fmt.Errorf("booking %d date %q: %w", b.ID, bookingDate, err)
	}
	if b.StartTime, err = booking.ParseTimeOfDay(startTime); err != nil {
		return booking.Booking{}, fmt.Errorf("booking %d start %q: %w", b.ID, startTime, err)
	}
	if b.EndTime, err = booking.ParseTimeOfDay(endTime); err != nil {
		return booking.Booking{}, fmt.Errorf("booking %d end %q: %w", b.ID, endTime, err)
	}
	b.PaymentMethod = paymentMethod.String
	b.CancellationReason = cancellationReason.String
	b.CancelledBy = cancelledBy.String
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		b.CancelledAt = &t
	}
	if refundGranted.Valid {
		granted := refundGranted.Bool
		b.RefundGranted = &granted
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func collectBookings(rows *sql.Rows) ([]booking.Booking, error) {
	defer rows.Close()
	var items []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getBooking = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`

func (q *Queries) GetBooking(ctx context.Context, id int64) (booking.Booking, error) {
	return scanBooking(q.db.QueryRowContext(ctx, getBooking, id))
}

const listBookingsForCourtDate = `
SELECT ` + bookingColumns + `
FROM bookings
WHERE court_id = ?
  AND booking_date = ?
  AND (? OR status <> 'CANCELLED')
ORDER BY start_time, id`

func (q *Queries) ListBookingsForCourtDate(ctx context.Context, courtID int64, date string, includeCancelled bool) ([]booking.Booking, error) {
	rows, err := q.db.QueryContext(ctx, listBookingsForCourtDate, courtID, date, includeCancelled)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

const listOverlappingBookings = `
SELECT ` + bookingColumns + `
FROM bookings
WHERE court_id = ?
  AND booking_date = ?
  AND status <> 'CANCELLED'
  AND start_time < ?
  AND ? < end_time
ORDER BY start_time, id`

func (q *Queries) ListOverlappingBookings(ctx context.Context, courtID int64, date, startTime, endTime string) ([]booking.Booking, error) {
	rows, err := q.db.QueryContext(ctx, listOverlappingBookings, courtID, date, endTime, startTime)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListBookingsByStatus returns bookings in any of statuses dated on or before
// throughDate.
func (q *Queries) ListBookingsByStatus(ctx context.Context, statuses []string, throughDate string) ([]booking.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := `SELECT ` + bookingColumns + `
FROM bookings
WHERE status IN (` + placeholders + `)
  AND booking_date <= ?
ORDER BY booking_date, start_time, id`

	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, throughDate)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

type CreateBookingParams struct {
	CourtID            int64
	UserID             int64
	BookingDate        string
	StartTime          string
	EndTime            string
	DurationMinutes    int
	TotalPriceCents    int64
	DepositAmountCents int64
	Status             string
	PaymentStatus      string
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const createBooking = `
INSERT INTO bookings (
    court_id, user_id, booking_date, start_time, end_time, duration_minutes,
    total_price_cents, deposit_amount_cents, status, payment_status, notes,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateBooking inserts a booking and returns its id.
func (q *Queries) CreateBooking(ctx context.Context, arg CreateBookingParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, createBooking,
		arg.CourtID,
		arg.UserID,
		arg.BookingDate,
		arg.StartTime,
		arg.EndTime,
		arg.DurationMinutes,
		arg.TotalPriceCents,
		arg.DepositAmountCents,
		arg.Status,
		arg.PaymentStatus,
		arg.Notes,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

type UpdateBookingStatusParams struct {
	ID                 int64
	FromStatus         string
	Status             string
	CancellationReason sql.NullString
	CancelledBy        sql.NullString
	CancelledAt        sql.NullTime
	RefundGranted      sql.NullBool
	RefundAmountCents  int64
	UpdatedAt          time.Time
}

const updateBookingStatus = `
UPDATE bookings
SET status = ?,
    cancellation_reason = ?,
    cancelled_by = ?,
    cancelled_at = ?,
    refund_granted = ?,
    refund_amount_cents = ?,
    updated_at = ?
WHERE id = ? AND status = ?`

// UpdateBookingStatus applies the change only if the booking still has
// FromStatus and reports the number of rows changed.
func (q *Queries) UpdateBookingStatus(ctx context.Context, arg UpdateBookingStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateBookingStatus,
		arg.Status,
		arg.CancellationReason,
		arg.CancelledBy,
		arg.CancelledAt,
		arg.RefundGranted,
		arg.RefundAmountCents,
		arg.UpdatedAt,
		arg.ID,
		arg.FromStatus,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type UpdateBookingPaymentParams struct {
	ID                int64
	FromStatus        string
	FromPaymentStatus string
	Status            string
	PaymentStatus     string
	PaymentMethod     sql.NullString
	UpdatedAt         time.Time
}

const updateBookingPayment = `
UPDATE bookings
SET status = ?,
    payment_status = ?,
    payment_method = ?,
    updated_at = ?
WHERE id = ? AND status = ? AND payment_status = ?`

func (q *Queries) UpdateBookingPayment(ctx context.Context, arg UpdateBookingPaymentParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateBookingPayment,
		arg.Status,
		arg.PaymentStatus,
		arg.PaymentMethod,
		arg.UpdatedAt,
		arg.ID,
		arg.FromStatus,
		arg.FromPaymentStatus,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getSetting = `SELECT value FROM system_settings WHERE key = ?`

func (q *Queries) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := q.db.QueryRowContext(ctx, getSetting, key).Scan(&value)
	return value, err
}

const upsertSetting = `
INSERT INTO system_settings (key, value, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *Queries) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, upsertSetting, key, value)
	return err
}

const deleteSetting = `DELETE FROM system_settings WHERE key = ?`

func (q *Queries) DeleteSetting(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteSetting, key)
	return err
}

type UserContact struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
}

const getUserContact = `SELECT id, email, first_name, last_name FROM users WHERE id = ?`

func (q *Queries) GetUserContact(ctx context.Context, id int64) (UserContact, error) {
	var u UserContact
	err := q.db.QueryRowContext(ctx, getUserContact, id).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName)
	return u, err
}

type CreateUserParams struct {
	Email     string
	FirstName string
	LastName  string
}

const createUser = `
INSERT INTO users (email, first_name, last_name)
VALUES (?, ?, ?)
RETURNING id, email, first_name, last_name`

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (UserContact, error) {
	var u UserContact
	err := q.db.QueryRowContext(ctx, createUser, arg.Email, arg.FirstName, arg.LastName).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName)
	return u, err
}
