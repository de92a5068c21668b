package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventBookingCreated       EventType = "booking.created"
	EventBookingCancelled     EventType = "booking.cancelled"
	EventBookingPaid          EventType = "booking.paid"
	EventBookingPaymentFailed EventType = "booking.payment_failed"
	EventBookingStatusChanged EventType = "booking.status_changed"
)

// Event describes a committed state transition of a booking.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	BookingID  int64          `json:"bookingId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload"`
}

// EventNotifier receives events after the change they describe has been
// committed. A failed Notify never undoes the change.
type EventNotifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

func newEvent(eventType EventType, b Booking, at time.Time, extra map[string]any) Event {
	payload := map[string]any{
		"booking":       b,
		"courtId":       b.CourtID,
		"userId":        b.UserID,
		"bookingDate":   b.BookingDate.String(),
		"startTime":     b.StartTime.String(),
		"endTime":       b.EndTime.String(),
		"status":        b.Status,
		"paymentStatus": b.PaymentStatus,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		BookingID:  b.ID,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}
