// Package notify delivers committed booking events to the configured sinks.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtbook/internal/booking"
)

// Multi fans an event out to every sink. Each sink is tried even when an
// earlier one fails.
type Multi []booking.EventNotifier

var _ booking.EventNotifier = Multi(nil)

func (m Multi) Notify(ctx context.Context, event booking.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes every event to the request logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event booking.Event) error {
	log.Ctx(ctx).Info().
		Str("component", "booking_events").
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Int64("booking_id", event.BookingID).
		Time("occurred_at", event.OccurredAt).
		Msg("Booking event")
	return nil
}
