package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTxTimeout bounds one attempt at an atomic unit against the store.
const DefaultTxTimeout = 5 * time.Second

// Options configures an Engine. Only Store is required.
type Options struct {
	Store    BookingStore
	Notifier EventNotifier
	Payments PaymentPreferenceAdapter
	Cache    *AvailabilityCache
	Clock    Clock
	// Location is the facility timezone used for "today" and for
	// converting a booking's date and start time to an instant.
	Location        *time.Location
	SlotStride      time.Duration
	RefundThreshold time.Duration
	TxTimeout       time.Duration
	Currency        string
	PreferenceTTL   time.Duration
}

// Engine implements booking creation, the booking and payment state machine,
// cancellations and availability queries. It is safe for concurrent use.
type Engine struct {
	store           BookingStore
	notifier        EventNotifier
	payments        PaymentPreferenceAdapter
	cache           *AvailabilityCache
	clock           Clock
	loc             *time.Location
	stride          time.Duration
	refundThreshold time.Duration
	txTimeout       time.Duration
	currency        string
	preferenceTTL   time.Duration
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("booking engine requires a store")
	}
	e := &Engine{
		store:           opts.Store,
		notifier:        opts.Notifier,
		payments:        opts.Payments,
		cache:           opts.Cache,
		clock:           opts.Clock,
		loc:             opts.Location,
		stride:          opts.SlotStride,
		refundThreshold: opts.RefundThreshold,
		txTimeout:       opts.TxTimeout,
		currency:        strings.ToLower(strings.TrimSpace(opts.Currency)),
		preferenceTTL:   opts.PreferenceTTL,
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.cache == nil {
		e.cache = NewAvailabilityCache(CacheConfig{Clock: e.clock})
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.stride <= 0 {
		e.stride = DefaultSlotStride
	}
	if e.refundThreshold <= 0 {
		e.refundThreshold = DefaultRefundThreshold
	}
	if e.txTimeout <= 0 {
		e.txTimeout = DefaultTxTimeout
	}
	if e.currency == "" {
		e.currency = "usd"
	}
	if e.preferenceTTL <= 0 {
		e.preferenceTTL = DefaultPreferenceTTL
	}
	return e, nil
}

// Close releases the availability cache.
func (e *Engine) Close() {
	e.cache.Close()
}

func (e *Engine) now() time.Time {
	return e.clock.Now().In(e.loc)
}

// Slots returns the candidate slots for a court on a date, each marked with
// whether it is free.
func (e *Engine) Slots(ctx context.Context, courtID int64, dateValue string) ([]Slot, error) {
	if courtID <= 0 {
		return nil, ValidationError("courtId must be a positive integer")
	}
	date, err := ParseDate(dateValue)
	if err != nil {
		return nil, ValidationError("%v", err)
	}

	slots, err := e.cache.Get(ctx, courtID, date, func(ctx context.Context) ([]Slot, error) {
		var slots []Slot
		err := e.retrying(ctx, func(ctx context.Context) error {
			court, err := activeCourt(ctx, e.store, courtID)
			if err != nil {
				return err
			}
			bookings, err := e.store.ListBookings(ctx, courtID, date, false)
			if err != nil {
				return fmt.Errorf("list bookings: %w", err)
			}
			slots = MarkAvailability(GenerateSlots(court.ID, date, court.Hours, e.stride), bookings)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return slots, nil
	})
	if err != nil {
		return nil, err
	}
	return e.withoutStarted(slots, date), nil
}

// withoutStarted marks today's slots whose start has passed as unavailable,
// matching what CreateBooking accepts. Cached slices are left untouched.
func (e *Engine) withoutStarted(slots []Slot, date Date) []Slot {
	now := e.now()
	if date != DateOf(now) {
		return slots
	}
	out := make([]Slot, len(slots))
	for i, slot := range slots {
		if slot.IsAvailable && date.At(slot.StartTime, e.loc).Before(now) {
			slot.IsAvailable = false
		}
		out[i] = slot
	}
	return out
}

type CreateParams struct {
	CourtID   int64
	UserID    int64
	Date      string
	StartTime string
	EndTime   string
	Notes     string
}

// CreateBooking reserves a window on a court. The overlap check and the
// insert run in one atomic unit, so of two racing requests for overlapping
// windows exactly one succeeds.
func (e *Engine) CreateBooking(ctx context.Context, params CreateParams) (Booking, error) {
	now := e.now()

	date, err := ParseDate(params.Date)
	if err != nil {
		return Booking{}, ValidationError("bookingDate: %v", err)
	}
	if date.Before(DateOf(now)) {
		return Booking{}, ValidationError("bookingDate cannot be in the past")
	}
	if params.CourtID <= 0 {
		return Booking{}, ValidationError("courtId must be a positive integer")
	}
	if params.UserID <= 0 {
		return Booking{}, ValidationError("userId must be a positive integer")
	}
	start, err := ParseTimeOfDay(params.StartTime)
	if err != nil {
		return Booking{}, ValidationError("startTime: %v", err)
	}
	end, err := ParseTimeOfDay(params.EndTime)
	if err != nil {
		return Booking{}, ValidationError("endTime: %v", err)
	}
	if end <= start {
		return Booking{}, ValidationError("endTime must be after startTime")
	}

	logger := log.Ctx(ctx).With().
		Str("component", "booking_engine").
		Int64("court_id", params.CourtID).
		Str("date", date.String()).
		Str("start_time", start.String()).
		Str("end_time", end.String()).
		Logger()

	var created Booking
	err = e.atomically(ctx, func(ctx context.Context, tx BookingStore) error {
		court, err := activeCourt(ctx, tx, params.CourtID)
		if err != nil {
			return err
		}
		if err := e.checkWindow(court, date, start, end, now); err != nil {
			return err
		}

		overlapping, err := tx.FindOverlapping(ctx, court.ID, date, start, end)
		if err != nil {
			return fmt.Errorf("find overlapping bookings: %w", err)
		}
		if existing, ok := firstOverlap(overlapping, start, end); ok {
			logger.Info().Int64("conflicting_booking_id", existing.ID).Msg("Requested window is taken")
			return errWindowTaken()
		}

		quote, err := PriceBooking(ctx, court, tx)
		if err != nil {
			return err
		}

		created, err = tx.Insert(ctx, Booking{
			CourtID:            court.ID,
			UserID:             params.UserID,
			BookingDate:        date,
			StartTime:          start,
			EndTime:            end,
			DurationMinutes:    int(end.Sub(start) / time.Minute),
			TotalPriceCents:    quote.TotalCents,
			DepositAmountCents: quote.DepositCents,
			Status:             StatusPending,
			PaymentStatus:      PaymentPending,
			Notes:              strings.TrimSpace(params.Notes),
			CreatedAt:          now,
			UpdatedAt:          now,
		})
		if errors.Is(err, ErrOverlap) {
			logger.Info().Msg("Insert rejected by overlap guard")
			return errWindowTaken()
		}
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		return nil
	})
	if err != nil {
		logFailure(logger, err, "Failed to create booking")
		return Booking{}, err
	}

	e.cache.Invalidate(created.CourtID, created.BookingDate)
	logger.Info().Int64("booking_id", created.ID).Msg("Booking created")
	e.notify(ctx, newEvent(EventBookingCreated, created, now, map[string]any{
		"totalPrice":    created.TotalPriceCents,
		"depositAmount": created.DepositAmountCents,
	}))
	return created, nil
}

// checkWindow validates a requested window against the court's day.
func (e *Engine) checkWindow(court Court, date Date, start, end TimeOfDay, now time.Time) error {
	if !court.Hours.Contains(start, end) {
		return ValidationError("court %d is open from %s to %s", court.ID, court.Hours.Opens, court.Hours.Closes)
	}
	if !onGrid(court.Hours, start, e.stride) || !onGrid(court.Hours, end, e.stride) {
		return ValidationError("times must fall on %d-minute steps from %s", int(e.stride/time.Minute), court.Hours.Opens)
	}
	if date == DateOf(now) && date.At(start, e.loc).Before(now) {
		return ValidationError("startTime has already passed")
	}
	return nil
}

// GetBooking returns one booking.
func (e *Engine) GetBooking(ctx context.Context, id int64) (Booking, error) {
	if id <= 0 {
		return Booking{}, ValidationError("booking id must be a positive integer")
	}
	var b Booking
	err := e.retrying(ctx, func(ctx context.Context) error {
		var err error
		b, err = getBooking(ctx, e.store, id)
		return err
	})
	return b, err
}

// ListBookings returns every booking on a court for a date, including
// cancelled ones, ordered by start time.
func (e *Engine) ListBookings(ctx context.Context, courtID int64, dateValue string) ([]Booking, error) {
	if courtID <= 0 {
		return nil, ValidationError("courtId must be a positive integer")
	}
	date, err := ParseDate(dateValue)
	if err != nil {
		return nil, ValidationError("%v", err)
	}
	var bookings []Booking
	err = e.retrying(ctx, func(ctx context.Context) error {
		if _, err := e.store.GetCourt(ctx, courtID); err != nil {
			if errors.Is(err, ErrNoRecord) {
				return NotFoundError("court %d not found", courtID)
			}
			return fmt.Errorf("get court: %w", err)
		}
		bookings, err = e.store.ListBookings(ctx, courtID, date, true)
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []Booking{}
	}
	return bookings, nil
}

type StatusParams struct {
	ID     int64
	Status string
	Reason string
	Actor  string
}

// UpdateBookingStatus moves a booking along the lifecycle graph. Moving to
// CANCELLED goes through CancelBooking so the refund policy always applies.
func (e *Engine) UpdateBookingStatus(ctx context.Context, params StatusParams) (Booking, error) {
	if params.ID <= 0 {
		return Booking{}, ValidationError("booking id must be a positive integer")
	}
	target, err := ParseStatus(params.Status)
	if err != nil {
		return Booking{}, ValidationError("%v", err)
	}
	actor := strings.TrimSpace(params.Actor)
	if actor == "" {
		actor = "system"
	}

	if target == StatusCancelled {
		reason := strings.TrimSpace(params.Reason)
		if reason == "" {
			reason = "status updated to CANCELLED"
		}
		updated, _, err := e.CancelBooking(ctx, CancelParams{ID: params.ID, Reason: reason, CancelledBy: actor})
		return updated, err
	}

	logger := log.Ctx(ctx).With().
		Str("component", "booking_engine").
		Int64("booking_id", params.ID).
		Str("target_status", string(target)).
		Logger()

	now := e.now()
	var previous, updated Booking
	err = e.atomically(ctx, func(ctx context.Context, tx BookingStore) error {
		current, err := getBooking(ctx, tx, params.ID)
		if err != nil {
			return err
		}
		if err := checkStatusTransition(current, target, now, e.loc); err != nil {
			return err
		}
		previous = current
		updated, err = tx.UpdateStatus(ctx, current.ID, current.Status, StatusChange{
			Status:    target,
			UpdatedAt: now,
		})
		return updateError(err, current.ID, "update booking status")
	})
	if err != nil {
		logFailure(logger, err, "Failed to update booking status")
		return Booking{}, err
	}

	e.cache.Invalidate(updated.CourtID, updated.BookingDate)
	logger.Info().Str("previous_status", string(previous.Status)).Msg("Booking status updated")
	e.notify(ctx, newEvent(EventBookingStatusChanged, updated, now, map[string]any{
		"from":   previous.Status,
		"to":     updated.Status,
		"reason": strings.TrimSpace(params.Reason),
		"actor":  actor,
	}))
	return updated, nil
}

type PaymentParams struct {
	ID     int64
	Status string
	Method string
}

// UpdatePaymentStatus records a payment outcome. The first settled payment on
// a PENDING booking confirms it in the same atomic unit.
func (e *Engine) UpdatePaymentStatus(ctx context.Context, params PaymentParams) (Booking, error) {
	if params.ID <= 0 {
		return Booking{}, ValidationError("booking id must be a positive integer")
	}
	target, err := ParsePaymentStatus(params.Status)
	if err != nil {
		return Booking{}, ValidationError("%v", err)
	}

	logger := log.Ctx(ctx).With().
		Str("component", "booking_engine").
		Int64("booking_id", params.ID).
		Str("target_payment_status", string(target)).
		Logger()

	now := e.now()
	var previous, updated Booking
	err = e.atomically(ctx, func(ctx context.Context, tx BookingStore) error {
		current, err := getBooking(ctx, tx, params.ID)
		if err != nil {
			return err
		}
		if err := checkPaymentTransition(current, target); err != nil {
			return err
		}

		change := PaymentChange{
			PaymentStatus: target,
			PaymentMethod: current.PaymentMethod,
			Status:        current.Status,
			UpdatedAt:     now,
		}
		if target.Settled() {
			if method := strings.TrimSpace(params.Method); method != "" {
				change.PaymentMethod = method
			}
			if current.Status == StatusPending {
				change.Status = StatusConfirmed
			}
		}

		previous = current
		updated, err = tx.UpdatePayment(ctx, current.ID, current.Status, current.PaymentStatus, change)
		return updateError(err, current.ID, "update payment status")
	})
	if err != nil {
		logFailure(logger, err, "Failed to update payment status")
		return Booking{}, err
	}

	e.cache.Invalidate(updated.CourtID, updated.BookingDate)
	logger.Info().
		Str("previous_payment_status", string(previous.PaymentStatus)).
		Str("status", string(updated.Status)).
		Msg("Payment status updated")

	extra := map[string]any{
		"previousPaymentStatus": previous.PaymentStatus,
		"paymentMethod":         updated.PaymentMethod,
		"confirmed":             previous.Status != updated.Status,
	}
	switch {
	case target.Settled():
		e.notify(ctx, newEvent(EventBookingPaid, updated, now, extra))
	case target == PaymentFailed:
		e.notify(ctx, newEvent(EventBookingPaymentFailed, updated, now, extra))
	}
	return updated, nil
}

type CancelParams struct {
	ID          int64
	Reason      string
	CancelledBy string
}

// CancelBooking cancels a booking and decides its refund. Of several
// concurrent cancellations exactly one succeeds; the others see the booking
// already cancelled.
func (e *Engine) CancelBooking(ctx context.Context, params CancelParams) (Booking, RefundDecision, error) {
	if params.ID <= 0 {
		return Booking{}, RefundDecision{}, ValidationError("booking id must be a positive integer")
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		return Booking{}, RefundDecision{}, ValidationError("cancellation reason is required")
	}
	cancelledBy := strings.TrimSpace(params.CancelledBy)
	if cancelledBy == "" {
		return Booking{}, RefundDecision{}, ValidationError("cancelledBy is required")
	}

	logger := log.Ctx(ctx).With().
		Str("component", "booking_engine").
		Int64("booking_id", params.ID).
		Str("cancelled_by", cancelledBy).
		Logger()

	now := e.now()
	var (
		updated  Booking
		decision RefundDecision
	)
	err := e.atomically(ctx, func(ctx context.Context, tx BookingStore) error {
		current, err := getBooking(ctx, tx, params.ID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(StatusCancelled) {
			return InvalidTransitionError("booking %d is already %s", current.ID, current.Status)
		}

		decision = EvaluateCancellation(current, current.StartsAt(e.loc).Sub(now), e.refundThreshold)
		granted := decision.Granted
		cancelledAt := now.UTC()
		updated, err = tx.UpdateStatus(ctx, current.ID, current.Status, StatusChange{
			Status:             StatusCancelled,
			CancellationReason: reason,
			CancelledBy:        cancelledBy,
			CancelledAt:        &cancelledAt,
			RefundGranted:      &granted,
			RefundAmountCents:  decision.RefundCents,
			UpdatedAt:          now,
		})
		return updateError(err, current.ID, "cancel booking")
	})
	if err != nil {
		logFailure(logger, err, "Failed to cancel booking")
		return Booking{}, RefundDecision{}, err
	}

	e.cache.Invalidate(updated.CourtID, updated.BookingDate)
	logger.Info().
		Bool("refund_granted", decision.Granted).
		Float64("hours_until_start", decision.HoursUntilStart).
		Int64("refund_cents", decision.RefundCents).
		Msg("Booking cancelled")
	e.notify(ctx, newEvent(EventBookingCancelled, updated, now, map[string]any{
		"reason":        reason,
		"cancelledBy":   cancelledBy,
		"refundGranted": decision.Granted,
		"refund":        decision,
	}))
	return updated, decision, nil
}

type PreferenceParams struct {
	BookingID   int64
	AmountCents int64
	ExpiresAt   time.Time
	UserID      int64
	BackURLs    *BackURLs
}

// CreatePaymentPreference asks the payment gateway for a redeemable payment
// intent covering part or all of a booking's price.
func (e *Engine) CreatePaymentPreference(ctx context.Context, params PreferenceParams) (Preference, error) {
	if e.payments == nil {
		return Preference{}, ConfigurationError("payment provider is not configured")
	}
	if params.BookingID <= 0 {
		return Preference{}, ValidationError("bookingId must be a positive integer")
	}
	if params.AmountCents <= 0 {
		return Preference{}, ValidationError("amount must be greater than zero")
	}

	var b Booking
	err := e.retrying(ctx, func(ctx context.Context) error {
		var err error
		b, err = e.store.Get(ctx, params.BookingID)
		if errors.Is(err, ErrNoRecord) {
			return ValidationError("booking %d does not exist", params.BookingID)
		}
		if err != nil {
			return fmt.Errorf("get booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return Preference{}, err
	}
	if b.Status.IsTerminal() {
		return Preference{}, ValidationError("booking %d is %s", b.ID, b.Status)
	}
	if b.PaymentStatus == PaymentFullyPaid {
		return Preference{}, ValidationError("booking %d is already fully paid", b.ID)
	}
	if outstanding := b.TotalPriceCents - AmountPaid(b); params.AmountCents > outstanding {
		return Preference{}, ValidationError("amount cannot exceed the outstanding balance of %d", outstanding)
	}

	now := e.now()
	expiresAt := params.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(e.preferenceTTL)
	}
	if !expiresAt.After(now) {
		return Preference{}, ValidationError("expiresAt must be in the future")
	}
	userID := params.UserID
	if userID <= 0 {
		userID = b.UserID
	}

	logger := log.Ctx(ctx).With().
		Str("component", "booking_engine").
		Int64("booking_id", b.ID).
		Str("provider", e.payments.Name()).
		Logger()

	pref, err := e.payments.CreatePreference(ctx, PreferenceRequest{
		BookingID:   b.ID,
		Title:       fmt.Sprintf("Court booking #%d", b.ID),
		Description: fmt.Sprintf("Court %d on %s from %s to %s", b.CourtID, b.BookingDate, b.StartTime, b.EndTime),
		AmountCents: params.AmountCents,
		Currency:    e.currency,
		ExpiresAt:   expiresAt,
		UserID:      userID,
		BackURLs:    params.BackURLs,
	})
	if err != nil {
		var engineErr *Error
		if !errors.As(err, &engineErr) {
			err = PaymentProviderError(e.payments.Name(), err)
		}
		logger.Error().Err(err).Msg("Failed to create payment preference")
		return Preference{}, err
	}

	logger.Info().Str("preference_id", pref.ID).Msg("Payment preference created")
	return pref, nil
}

func (e *Engine) notify(ctx context.Context, event Event) {
	if err := e.notifier.Notify(ctx, event); err != nil {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("event_type", string(event.Type)).
			Int64("booking_id", event.BookingID).
			Msg("Failed to publish booking event")
	}
}

// atomically runs fn in a store transaction with the engine's retry policy.
func (e *Engine) atomically(ctx context.Context, fn func(ctx context.Context, tx BookingStore) error) error {
	return e.retrying(ctx, func(ctx context.Context) error {
		return e.store.WithTransaction(ctx, fn)
	})
}

// retrying runs fn under the store timeout. A timed out attempt is retried
// once; anything else is returned as is. Errors that are not already engine
// errors come back as InternalError.
func (e *Engine) retrying(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = e.attempt(ctx, fn)
		if !errors.Is(err, ErrStoreTimeout) || ctx.Err() != nil {
			break
		}
		log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("Booking store timed out")
	}
	return storeError(err)
}

func (e *Engine) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrStoreTimeout) {
		return fmt.Errorf("%w: %w", ErrStoreTimeout, err)
	}
	return err
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr
	}
	if errors.Is(err, ErrStoreTimeout) {
		return InternalError("booking store timed out", err)
	}
	return InternalError("booking store failed", err)
}

func activeCourt(ctx context.Context, store BookingStore, id int64) (Court, error) {
	court, err := store.GetCourt(ctx, id)
	if errors.Is(err, ErrNoRecord) {
		return Court{}, NotFoundError("court %d not found", id)
	}
	if err != nil {
		return Court{}, fmt.Errorf("get court: %w", err)
	}
	if !court.IsActive {
		return Court{}, ValidationError("court %d is not active", id)
	}
	return court, nil
}

func getBooking(ctx context.Context, store BookingStore, id int64) (Booking, error) {
	b, err := store.Get(ctx, id)
	if errors.Is(err, ErrNoRecord) {
		return Booking{}, NotFoundError("booking %d not found", id)
	}
	if err != nil {
		return Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func updateError(err error, id int64, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoRecord):
		return NotFoundError("booking %d not found", id)
	case errors.Is(err, ErrStaleState):
		return InvalidTransitionError("booking %d was changed by another request", id)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func errWindowTaken() error {
	return ConflictError("court not available in the requested window")
}

func logFailure(logger zerolog.Logger, err error, msg string) {
	switch KindOf(err) {
	case KindInternal, KindConfiguration, KindPaymentProvider:
		logger.Error().Err(err).Msg(msg)
	default:
		logger.Info().Err(err).Msg(msg)
	}
}
