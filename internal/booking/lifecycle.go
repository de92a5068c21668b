package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// LifecycleResult counts the transitions made by one AdvanceLifecycle run.
type LifecycleResult struct {
	Activated int
	Completed int
}

// AdvanceLifecycle moves CONFIRMED bookings whose session has started to
// ACTIVE and ACTIVE bookings whose session has ended to COMPLETED. Each
// booking is advanced in its own atomic unit; a failure on one booking does
// not stop the others.
func (e *Engine) AdvanceLifecycle(ctx context.Context) (LifecycleResult, error) {
	now := e.now()
	logger := log.Ctx(ctx).With().
		Str("component", "booking_lifecycle").
		Time("comparison_time", now).
		Logger()

	var candidates []Booking
	err := e.retrying(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = e.store.ListByStatus(ctx, []Status{StatusConfirmed, StatusActive}, DateOf(now))
		if err != nil {
			return fmt.Errorf("list bookings by status: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list bookings to advance")
		return LifecycleResult{}, err
	}

	var (
		result LifecycleResult
		errs   []error
	)
	for _, candidate := range candidates {
		if len(lifecycleTargets(candidate, now, e.loc)) == 0 {
			continue
		}
		bookingLogger := logger.With().Int64("booking_id", candidate.ID).Logger()

		var (
			previous Booking
			updated  Booking
		)
		err := e.atomically(ctx, func(ctx context.Context, tx BookingStore) error {
			current, err := getBooking(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			previous, updated = current, current
			for _, target := range lifecycleTargets(current, now, e.loc) {
				updated, err = tx.UpdateStatus(ctx, current.ID, updated.Status, StatusChange{
					Status:    target,
					UpdatedAt: now,
				})
				if err := updateError(err, current.ID, "advance booking"); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			bookingLogger.Error().Err(err).Msg("Failed to advance booking")
			errs = append(errs, err)
			continue
		}
		if previous.Status == updated.Status {
			continue
		}

		if previous.Status == StatusConfirmed {
			result.Activated++
		}
		if updated.Status == StatusCompleted {
			result.Completed++
		}
		e.cache.Invalidate(updated.CourtID, updated.BookingDate)
		bookingLogger.Info().
			Str("previous_status", string(previous.Status)).
			Str("status", string(updated.Status)).
			Msg("Booking advanced")
		e.notify(ctx, newEvent(EventBookingStatusChanged, updated, now, map[string]any{
			"from":  previous.Status,
			"to":    updated.Status,
			"actor": "system",
		}))
	}

	logger.Info().
		Int("activated", result.Activated).
		Int("completed", result.Completed).
		Msg("Booking lifecycle advanced")
	return result, errors.Join(errs...)
}

// lifecycleTargets returns the statuses b passes through at now, in order.
func lifecycleTargets(b Booking, now time.Time, loc *time.Location) []Status {
	var targets []Status
	status := b.Status
	if status == StatusConfirmed && !now.Before(b.StartsAt(loc)) {
		targets = append(targets, StatusActive)
		status = StatusActive
	}
	if status == StatusActive && !now.Before(b.EndsAt(loc)) {
		targets = append(targets, StatusCompleted)
	}
	return targets
}
