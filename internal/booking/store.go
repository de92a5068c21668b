package booking

import (
	"context"
	"time"
)

// StatusChange is written by BookingStore.UpdateStatus. Cancellation fields
// are only set when Status is StatusCancelled.
type StatusChange struct {
	Status             Status
	CancellationReason string
	CancelledBy        string
	CancelledAt        *time.Time
	RefundGranted      *bool
	RefundAmountCents  int64
	UpdatedAt          time.Time
}

// PaymentChange is written by BookingStore.UpdatePayment. Status is the
// booking status after the change, which may equal the current one.
type PaymentChange struct {
	PaymentStatus PaymentStatus
	PaymentMethod string
	Status        Status
	UpdatedAt     time.Time
}

// BookingStore is the transactional storage the engine runs against.
//
// Lookups of missing rows return ErrNoRecord. Insert returns ErrOverlap when
// the write boundary rejects an overlapping booking. Conditional updates
// return ErrStaleState when the row no longer has the expected state.
// Busy or timed out storage is reported as ErrStoreTimeout.
type BookingStore interface {
	SettingsReader

	// WithTransaction runs fn in one atomic unit. fn must use tx for every
	// read and write that belongs to the unit.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx BookingStore) error) error

	GetCourt(ctx context.Context, id int64) (Court, error)
	Get(ctx context.Context, id int64) (Booking, error)
	ListBookings(ctx context.Context, courtID int64, date Date, includeCancelled bool) ([]Booking, error)
	FindOverlapping(ctx context.Context, courtID int64, date Date, start, end TimeOfDay) ([]Booking, error)
	Insert(ctx context.Context, b Booking) (Booking, error)
	UpdateStatus(ctx context.Context, id int64, from Status, change StatusChange) (Booking, error)
	UpdatePayment(ctx context.Context, id int64, fromStatus Status, fromPayment PaymentStatus, change PaymentChange) (Booking, error)

	// ListByStatus returns bookings in any of statuses dated on or before
	// through, ordered by date and start time.
	ListByStatus(ctx context.Context, statuses []Status, through Date) ([]Booking, error)
}
