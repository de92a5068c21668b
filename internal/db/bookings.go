package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/codr1/courtbook/internal/booking"
)

// overlapGuard is the RAISE message of the bookings_no_overlap trigger.
const overlapGuard = "booking_overlap"

// BookingStore implements booking.BookingStore on SQLite.
type BookingStore struct {
	db   *DB
	inTx bool
}

var _ booking.BookingStore = (*BookingStore)(nil)

func NewBookingStore(database *DB) (*BookingStore, error) {
	if database == nil {
		return nil, errors.New("booking store requires a database")
	}
	return &BookingStore{db: database}, nil
}

// WithTransaction runs fn in a write transaction. The DSN opens transactions
// with BEGIN IMMEDIATE, so concurrent units are serialized by SQLite. Calls
// on a store that is already inside a transaction join it.
func (s *BookingStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx booking.BookingStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	err := s.db.RunInTx(ctx, func(txdb *DB) error {
		return fn(ctx, &BookingStore{db: txdb, inTx: true})
	})
	return translateError(ctx, err)
}

func (s *BookingStore) GetCourt(ctx context.Context, id int64) (booking.Court, error) {
	court, err := s.db.Queries.GetCourt(ctx, id)
	if err != nil {
		return booking.Court{}, translateError(ctx, fmt.Errorf("get court %d: %w", id, err))
	}
	return court, nil
}

func (s *BookingStore) Get(ctx context.Context, id int64) (booking.Booking, error) {
	b, err := s.db.Queries.GetBooking(ctx, id)
	if err != nil {
		return booking.Booking{}, translateError(ctx, fmt.Errorf("get booking %d: %w", id, err))
	}
	return b, nil
}

func (s *BookingStore) ListBookings(ctx context.Context, courtID int64, date booking.Date, includeCancelled bool) ([]booking.Booking, error) {
	items, err := s.db.Queries.ListBookingsForCourtDate(ctx, courtID, date.String(), includeCancelled)
	if err != nil {
		return nil, translateError(ctx, fmt.Errorf("list bookings for court %d on %s: %w", courtID, date, err))
	}
	return items, nil
}

func (s *BookingStore) FindOverlapping(ctx context.Context, courtID int64, date booking.Date, start, end booking.TimeOfDay) ([]booking.Booking, error) {
	items, err := s.db.Queries.ListOverlappingBookings(ctx, courtID, date.String(), start.String(), end.String())
	if err != nil {
		return nil, translateError(ctx, fmt.Errorf("find overlapping bookings: %w", err))
	}
	return items, nil
}

func (s *BookingStore) Insert(ctx context.Context, b booking.Booking) (booking.Booking, error) {
	id, err := s.db.Queries.CreateBooking(ctx, CreateBookingParams{
		CourtID:            b.CourtID,
		UserID:             b.UserID,
		BookingDate:        b.BookingDate.String(),
		StartTime:          b.StartTime.String(),
		EndTime:            b.EndTime.String(),
		DurationMinutes:    b.DurationMinutes,
		TotalPriceCents:    b.TotalPriceCents,
		DepositAmountCents: b.DepositAmountCents,
		Status:             string(b.Status),
		PaymentStatus:      string(b.PaymentStatus),
		Notes:              b.Notes,
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
	})
	if err != nil {
		return booking.Booking{}, translateError(ctx, fmt.Errorf("insert booking: %w", err))
	}
	return s.Get(ctx, id)
}

func (s *BookingStore) UpdateStatus(ctx context.Context, id int64, from booking.Status, change booking.StatusChange) (booking.Booking, error) {
	params := UpdateBookingStatusParams{
		ID:                id,
		FromStatus:        string(from),
		Status:            string(change.Status),
		RefundAmountCents: change.RefundAmountCents,
		UpdatedAt:         change.UpdatedAt.UTC(),
	}
	if change.Status == booking.StatusCancelled {
		params.CancellationReason = sql.NullString{String: change.CancellationReason, Valid: true}
		params.CancelledBy = sql.NullString{String: change.CancelledBy, Valid: change.CancelledBy != ""}
		if change.CancelledAt != nil {
			params.CancelledAt = sql.NullTime{Time: change.CancelledAt.UTC(), Valid: true}
		}
		if change.RefundGranted != nil {
			params.RefundGranted = sql.NullBool{Bool: *change.RefundGranted, Valid: true}
		}
	}

	affected, err := s.db.Queries.UpdateBookingStatus(ctx, params)
	if err != nil {
		return booking.Booking{}, translateError(ctx, fmt.Errorf("update booking %d status: %w", id, err))
	}
	if affected == 0 {
		return booking.Booking{}, s.missingOrStale(ctx, id)
	}
	return s.Get(ctx, id)
}

func (s *BookingStore) UpdatePayment(ctx context.Context, id int64, fromStatus booking.Status, fromPayment booking.PaymentStatus, change booking.PaymentChange) (booking.Booking, error) {
	affected, err := s.db.Queries.UpdateBookingPayment(ctx, UpdateBookingPaymentParams{
		ID:                id,
		FromStatus:        string(fromStatus),
		FromPaymentStatus: string(fromPayment),
		Status:            string(change.Status),
		PaymentStatus:     string(change.PaymentStatus),
		PaymentMethod:     sql.NullString{String: change.PaymentMethod, Valid: change.PaymentMethod != ""},
		UpdatedAt:         change.UpdatedAt.UTC(),
	})
	if err != nil {
		return booking.Booking{}, translateError(ctx, fmt.Errorf("update booking %d payment: %w", id, err))
	}
	if affected == 0 {
		return booking.Booking{}, s.missingOrStale(ctx, id)
	}
	return s.Get(ctx, id)
}

func (s *BookingStore) ListByStatus(ctx context.Context, statuses []booking.Status, through booking.Date) ([]booking.Booking, error) {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	items, err := s.db.Queries.ListBookingsByStatus(ctx, values, through.String())
	if err != nil {
		return nil, translateError(ctx, fmt.Errorf("list bookings by status: %w", err))
	}
	return items, nil
}

// Setting implements booking.SettingsReader.
func (s *BookingStore) Setting(ctx context.Context, key string) (string, bool, error) {
	value, err := s.db.Queries.GetSetting(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translateError(ctx, fmt.Errorf("get setting %s: %w", key, err))
	}
	return value, true, nil
}

func (s *BookingStore) missingOrStale(ctx context.Context, id int64) error {
	if _, err := s.db.Queries.GetBooking(ctx, id); err != nil {
		return translateError(ctx, fmt.Errorf("get booking %d: %w", id, err))
	}
	return fmt.Errorf("booking %d: %w", id, booking.ErrStaleState)
}

// translateError maps SQLite and database/sql failures onto the sentinel
// errors of the booking package. Other errors are returned unchanged.
func translateError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, booking.ErrStoreTimeout) || errors.Is(err, booking.ErrOverlap) || errors.Is(err, booking.ErrNoRecord) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", booking.ErrNoRecord, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", booking.ErrStoreTimeout, err)
		case sqlite3.ErrConstraint:
			if strings.Contains(sqliteErr.Error(), overlapGuard) {
				return fmt.Errorf("%w: %w", booking.ErrOverlap, err)
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", booking.ErrStoreTimeout, err)
	}
	return err
}
