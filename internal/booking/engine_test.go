package booking_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codr1/courtbook/internal/booking"
	"github.com/codr1/courtbook/internal/db"
	"github.com/codr1/courtbook/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []booking.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event booking.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) types() []booking.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]booking.EventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

func (n *recordingNotifier) last() booking.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type fakePayments struct {
	mu       sync.Mutex
	requests []booking.PreferenceRequest
	err      error
}

func (f *fakePayments) Name() string { return "fake" }

func (f *fakePayments) CreatePreference(_ context.Context, req booking.PreferenceRequest) (booking.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return booking.Preference{}, f.err
	}
	return booking.Preference{
		ID:        fmt.Sprintf("pref-%d", req.BookingID),
		InitPoint: fmt.Sprintf("https://pay.example.com/%d", req.BookingID),
	}, nil
}

const (
	today    = "2030-06-01"
	tomorrow = "2030-06-02"
)

type fixture struct {
	engine   *booking.Engine
	database *db.DB
	store    booking.BookingStore
	court    booking.Court
	clock    *fakeClock
	events   *recordingNotifier
	payments *fakePayments
}

func newFixture(t *testing.T, opts ...testutil.CourtOption) *fixture {
	t.Helper()

	database := testutil.NewTestDB(t)
	f := &fixture{
		database: database,
		store:    testutil.NewBookingStore(t, database),
		court:    testutil.SeedCourt(t, database, opts...),
		clock:    &fakeClock{now: time.Date(2030, time.June, 1, 9, 0, 0, 0, time.UTC)},
		events:   &recordingNotifier{},
		payments: &fakePayments{},
	}
	f.engine = f.newEngine(t, f.store)
	return f
}

func (f *fixture) newEngine(t *testing.T, store booking.BookingStore) *booking.Engine {
	t.Helper()
	engine, err := booking.NewEngine(booking.Options{
		Store:    store,
		Notifier: f.events,
		Payments: f.payments,
		Cache:    booking.NewAvailabilityCache(booking.CacheConfig{Clock: f.clock}),
		Clock:    f.clock,
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func (f *fixture) create(t *testing.T, date, start, end string) booking.Booking {
	t.Helper()
	b, err := f.engine.CreateBooking(context.Background(), booking.CreateParams{
		CourtID:   f.court.ID,
		UserID:    42,
		Date:      date,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		t.Fatalf("create booking %s %s-%s: %v", date, start, end, err)
	}
	return b
}

func requireKind(t *testing.T, err error, kind booking.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := booking.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestNewEngineRequiresStore(t *testing.T) {
	if _, err := booking.NewEngine(booking.Options{}); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestCreateBookingPricesAndPersists(t *testing.T) {
	f := newFixture(t)

	b := f.create(t, tomorrow, "10:00", "11:30")

	if b.ID == 0 {
		t.Fatal("expected an id")
	}
	if b.Status != booking.StatusPending || b.PaymentStatus != booking.PaymentPending {
		t.Fatalf("expected PENDING/PENDING, got %s/%s", b.Status, b.PaymentStatus)
	}
	if b.TotalPriceCents != 1200 || b.DepositAmountCents != 600 {
		t.Fatalf("expected 1200/600, got %d/%d", b.TotalPriceCents, b.DepositAmountCents)
	}
	if b.DurationMinutes != 90 {
		t.Fatalf("expected 90 minutes, got %d", b.DurationMinutes)
	}
	if b.CancelledAt != nil || b.CancellationReason != "" {
		t.Fatal("new booking must not carry cancellation fields")
	}

	got, err := f.engine.GetBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if got.StartTime.String() != "10:00" || got.BookingDate.String() != tomorrow {
		t.Fatalf("unexpected persisted booking %+v", got)
	}

	if types := f.events.types(); len(types) != 1 || types[0] != booking.EventBookingCreated {
		t.Fatalf("expected one booking.created event, got %v", types)
	}
	if f.events.last().BookingID != b.ID {
		t.Fatal("event does not reference the booking")
	}
}

func TestPriceDoesNotDependOnDuration(t *testing.T) {
	f := newFixture(t, testutil.WithPricing(1000, 1.2))

	short := f.create(t, tomorrow, "10:00", "10:30")
	long := f.create(t, tomorrow, "12:00", "14:00")

	if short.TotalPriceCents != 1200 || long.TotalPriceCents != 1200 {
		t.Fatalf("expected 1200 for both, got %d and %d", short.TotalPriceCents, long.TotalPriceCents)
	}
}

func TestCreateBookingConflicts(t *testing.T) {
	f := newFixture(t)
	f.create(t, tomorrow, "10:00", "11:30")

	_, err := f.engine.CreateBooking(context.Background(), booking.CreateParams{
		CourtID: f.court.ID, UserID: 7, Date: tomorrow, StartTime: "10:30", EndTime: "12:00",
	})
	requireKind(t, err, booking.KindConflict)

	// A booking that starts when the other ends does not conflict.
	f.create(t, tomorrow, "11:30", "13:00")

	// Another court is unaffected.
	other := testutil.SeedCourt(t, f.database)
	if _, err := f.engine.CreateBooking(context.Background(), booking.CreateParams{
		CourtID: other.ID, UserID: 7, Date: tomorrow, StartTime: "10:30", EndTime: "12:00",
	}); err != nil {
		t.Fatalf("expected other court to be free: %v", err)
	}
}

func TestCreateBookingConcurrentOverlap(t *testing.T) {
	f := newFixture(t)

	windows := [][2]string{{"10:00", "11:30"}, {"10:30", "12:00"}}
	errs := make([]error, len(windows))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, w := range windows {
		wg.Add(1)
		go func(i int, w [2]string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.CreateBooking(context.Background(), booking.CreateParams{
				CourtID: f.court.ID, UserID: int64(i + 1), Date: tomorrow, StartTime: w[0], EndTime: w[1],
			})
		}(i, w)
	}
	close(start)
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case booking.IsKind(err, booking.KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d and %d", successes, conflicts)
	}

	bookings, err := f.engine.ListBookings(context.Background(), f.court.ID, tomorrow)
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	if len(bookings) != 1 {
		t.Fatalf("expected exactly one stored booking, got %d", len(bookings))
	}
}

func TestOverlapGuardAtWriteBoundary(t *testing.T) {
	f := newFixture(t)
	existing := f.create(t, tomorrow, "10:00", "11:30")

	err := f.store.WithTransaction(context.Background(), func(ctx context.Context, tx booking.BookingStore) error {
		candidate := existing
		candidate.ID = 0
		candidate.StartTime = existing.StartTime + 30
		candidate.EndTime = existing.EndTime + 30
		_, err := tx.Insert(ctx, candidate)
		return err
	})
	if !errors.Is(err, booking.ErrOverlap) {
		t.Fatalf("expected the store to reject the overlap, got %v", err)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t)
	inactive := testutil.SeedCourt(t, f.database, testutil.Inactive())

	tests := []struct {
		name   string
		params booking.CreateParams
		kind   booking.Kind
	}{
		{
			name:   "yesterday regardless of court and times",
			params: booking.CreateParams{CourtID: 9999, UserID: 1, Date: "2030-05-31", StartTime: "bad", EndTime: "bad"},
			kind:   booking.KindValidation,
		},
		{
			name:   "malformed date",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: "06/02/2030", StartTime: "10:00", EndTime: "11:00"},
			kind:   booking.KindValidation,
		},
		{
			name:   "malformed start",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "10am", EndTime: "11:00"},
			kind:   booking.KindValidation,
		},
		{
			name:   "end before start",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "11:00", EndTime: "10:00"},
			kind:   booking.KindValidation,
		},
		{
			name:   "end equals start",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "10:00", EndTime: "10:00"},
			kind:   booking.KindValidation,
		},
		{
			name:   "missing user",
			params: booking.CreateParams{CourtID: f.court.ID, Date: tomorrow, StartTime: "10:00", EndTime: "11:00"},
			kind:   booking.KindValidation,
		},
		{
			name:   "unknown court",
			params: booking.CreateParams{CourtID: 9999, UserID: 1, Date: tomorrow, StartTime: "10:00", EndTime: "11:00"},
			kind:   booking.KindNotFound,
		},
		{
			name:   "inactive court",
			params: booking.CreateParams{CourtID: inactive.ID, UserID: 1, Date: tomorrow, StartTime: "10:00", EndTime: "11:00"},
			kind:   booking.KindValidation,
		},
		{
			name:   "before opening",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "07:00", EndTime: "08:30"},
			kind:   booking.KindValidation,
		},
		{
			name:   "after closing",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "21:00", EndTime: "22:30"},
			kind:   booking.KindValidation,
		},
		{
			name:   "off the slot grid",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "10:10", EndTime: "11:40"},
			kind:   booking.KindValidation,
		},
		{
			name:   "today but already started",
			params: booking.CreateParams{CourtID: f.court.ID, UserID: 1, Date: today, StartTime: "08:00", EndTime: "09:30"},
			kind:   booking.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateBooking(context.Background(), tt.params)
			requireKind(t, err, tt.kind)
		})
	}

	if types := f.events.types(); len(types) != 0 {
		t.Fatalf("failed creations must not emit events, got %v", types)
	}

	// Later today is still bookable.
	f.create(t, today, "10:00", "11:30")
}

func TestCreateBookingRequiresDepositSetting(t *testing.T) {
	f := newFixture(t)
	testutil.DeleteSetting(t, f.database, booking.DepositPercentageKey)

	_, err := f.engine.CreateBooking(context.Background(), booking.CreateParams{
		CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "10:00", EndTime: "11:30",
	})
	requireKind(t, err, booking.KindConfiguration)

	testutil.SetSetting(t, f.database, booking.DepositPercentageKey, "fifty")
	_, err = f.engine.CreateBooking(context.Background(), booking.CreateParams{
		CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "10:00", EndTime: "11:30",
	})
	requireKind(t, err, booking.KindConfiguration)

	bookings, err := f.engine.ListBookings(context.Background(), f.court.ID, tomorrow)
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	if len(bookings) != 0 {
		t.Fatalf("expected nothing written, got %d bookings", len(bookings))
	}
}

func availability(slots []booking.Slot) map[string]bool {
	out := make(map[string]bool, len(slots))
	for _, s := range slots {
		out[s.StartTime.String()] = s.IsAvailable
	}
	return out
}

func TestSlotsReflectBookingsAndCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.engine.Slots(ctx, f.court.ID, tomorrow)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(before) != 26 {
		t.Fatalf("expected 26 slots, got %d", len(before))
	}
	for _, s := range before {
		if !s.IsAvailable {
			t.Fatalf("slot %s should be free", s.StartTime)
		}
	}

	again, err := f.engine.Slots(ctx, f.court.ID, tomorrow)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if !reflect.DeepEqual(before, again) {
		t.Fatal("repeated reads without writes must be identical")
	}

	b := f.create(t, tomorrow, "10:00", "11:30")

	booked, err := f.engine.Slots(ctx, f.court.ID, tomorrow)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	marks := availability(booked)
	for start, want := range map[string]bool{
		"08:00": true,
		"08:30": true,
		"09:00": false,
		"10:00": false,
		"11:00": false,
		"11:30": true,
	} {
		if marks[start] != want {
			t.Fatalf("slot %s: expected available=%v", start, want)
		}
	}

	if _, _, err := f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, Reason: "rain", CancelledBy: "user:42"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	after, err := f.engine.Slots(ctx, f.court.ID, tomorrow)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatal("vacated window should be available again")
	}
}

func TestSlotsTodayHideStartedWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.engine.Slots(ctx, f.court.ID, today)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	got := availability(slots)
	for start, want := range map[string]bool{"08:00": false, "08:30": false, "09:00": true, "20:30": true} {
		if got[start] != want {
			t.Errorf("slot %s at 09:00: expected available=%v", start, want)
		}
	}
	_, err = f.engine.CreateBooking(ctx, booking.CreateParams{CourtID: f.court.ID, UserID: 42, Date: today, StartTime: "08:30", EndTime: "10:00"})
	requireKind(t, err, booking.KindValidation)

	f.clock.Set(time.Date(2030, time.June, 1, 10, 10, 0, 0, time.UTC))
	slots, err = f.engine.Slots(ctx, f.court.ID, today)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	got = availability(slots)
	for start, want := range map[string]bool{"09:00": false, "10:00": false, "10:30": true} {
		if got[start] != want {
			t.Errorf("slot %s at 10:10: expected available=%v", start, want)
		}
	}

	slots, err = f.engine.Slots(ctx, f.court.ID, tomorrow)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if !availability(slots)["08:00"] {
		t.Error("tomorrow's first slot should stay available")
	}
}

func TestSlotsErrors(t *testing.T) {
	f := newFixture(t)
	inactive := testutil.SeedCourt(t, f.database, testutil.Inactive())

	_, err := f.engine.Slots(context.Background(), 0, tomorrow)
	requireKind(t, err, booking.KindValidation)

	_, err = f.engine.Slots(context.Background(), f.court.ID, "tomorrow")
	requireKind(t, err, booking.KindValidation)

	_, err = f.engine.Slots(context.Background(), 9999, tomorrow)
	requireKind(t, err, booking.KindNotFound)

	_, err = f.engine.Slots(context.Background(), inactive.ID, tomorrow)
	requireKind(t, err, booking.KindValidation)
}

func TestCancelRefundBoundary(t *testing.T) {
	tests := []struct {
		name        string
		start       string
		end         string
		now         time.Time
		wantGranted bool
	}{
		{
			name:        "exactly two hours before",
			start:       "10:00",
			end:         "11:30",
			now:         time.Date(2030, time.June, 2, 8, 0, 0, 0, time.UTC),
			wantGranted: true,
		},
		{
			name:        "1.999 hours before",
			start:       "12:00",
			end:         "13:30",
			now:         time.Date(2030, time.June, 2, 12, 0, 0, 0, time.UTC).Add(-time.Duration(1.999 * float64(time.Hour))),
			wantGranted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			b := f.create(t, tomorrow, tt.start, tt.end)
			if _, err := f.engine.UpdatePaymentStatus(context.Background(), booking.PaymentParams{ID: b.ID, Status: "DEPOSIT_PAID"}); err != nil {
				t.Fatalf("pay deposit: %v", err)
			}

			f.clock.Set(tt.now)
			cancelled, decision, err := f.engine.CancelBooking(context.Background(), booking.CancelParams{
				ID: b.ID, Reason: "change of plans", CancelledBy: "user:42",
			})
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}

			if decision.Granted != tt.wantGranted {
				t.Fatalf("expected granted=%v, got %+v", tt.wantGranted, decision)
			}
			if tt.wantGranted {
				if decision.Outcome != booking.OutcomeFundsReleased || decision.RefundCents != 600 {
					t.Fatalf("unexpected granted decision %+v", decision)
				}
			} else if decision.Outcome != booking.OutcomeDepositRetained || decision.RetainedCents != 600 || decision.RefundCents != 0 {
				t.Fatalf("unexpected denied decision %+v", decision)
			}

			if cancelled.Status != booking.StatusCancelled {
				t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
			}
			if cancelled.CancellationReason != "change of plans" || cancelled.CancelledBy != "user:42" {
				t.Fatalf("cancellation fields not recorded: %+v", cancelled)
			}
			if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(tt.now) {
				t.Fatalf("expected cancelledAt %s, got %v", tt.now, cancelled.CancelledAt)
			}
			if cancelled.RefundGranted == nil || *cancelled.RefundGranted != tt.wantGranted {
				t.Fatalf("refund audit not recorded: %v", cancelled.RefundGranted)
			}

			event := f.events.last()
			if event.Type != booking.EventBookingCancelled {
				t.Fatalf("expected booking.cancelled, got %s", event.Type)
			}
			if event.Payload["refundGranted"] != tt.wantGranted {
				t.Fatalf("event payload missing refund decision: %v", event.Payload)
			}
		})
	}
}

func TestCancelBookingErrors(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")
	ctx := context.Background()

	_, _, err := f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, CancelledBy: "user:42"})
	requireKind(t, err, booking.KindValidation)

	_, _, err = f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, Reason: "rain"})
	requireKind(t, err, booking.KindValidation)

	_, _, err = f.engine.CancelBooking(ctx, booking.CancelParams{ID: 9999, Reason: "rain", CancelledBy: "user:42"})
	requireKind(t, err, booking.KindNotFound)

	if _, _, err := f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, Reason: "rain", CancelledBy: "user:42"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, _, err = f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, Reason: "rain", CancelledBy: "user:42"})
	requireKind(t, err, booking.KindInvalidTransition)
}

func TestConcurrentCancelsOneWins(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, _, errs[i] = f.engine.CancelBooking(context.Background(), booking.CancelParams{
				ID: b.ID, Reason: "rain", CancelledBy: fmt.Sprintf("user:%d", i),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireKind(t, err, booking.KindInvalidTransition)
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful cancel, got %d", successes)
	}
}

func TestIllegalTransitionLeavesCancelledBookingUnchanged(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")
	ctx := context.Background()

	if _, _, err := f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, Reason: "rain", CancelledBy: "admin:1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before, err := f.engine.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}

	for _, status := range []booking.Status{
		booking.StatusPending,
		booking.StatusConfirmed,
		booking.StatusActive,
		booking.StatusCompleted,
		booking.StatusCancelled,
	} {
		_, err := f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: string(status)})
		requireKind(t, err, booking.KindInvalidTransition)
	}

	_, err = f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "FULLY_PAID"})
	requireKind(t, err, booking.KindInvalidTransition)

	after, err := f.engine.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("booking changed:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestPaymentConfirmsBooking(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")
	ctx := context.Background()

	_, err := f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: "CONFIRMED"})
	requireKind(t, err, booking.KindInvalidTransition)

	paid, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "DEPOSIT_PAID", Method: "card"})
	if err != nil {
		t.Fatalf("update payment: %v", err)
	}
	if paid.Status != booking.StatusConfirmed || paid.PaymentStatus != booking.PaymentDepositPaid {
		t.Fatalf("expected CONFIRMED/DEPOSIT_PAID, got %s/%s", paid.Status, paid.PaymentStatus)
	}
	if paid.PaymentMethod != "card" {
		t.Fatalf("expected payment method card, got %q", paid.PaymentMethod)
	}
	if f.events.last().Type != booking.EventBookingPaid {
		t.Fatalf("expected booking.paid, got %s", f.events.last().Type)
	}

	full, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "FULLY_PAID"})
	if err != nil {
		t.Fatalf("settle balance: %v", err)
	}
	if full.Status != booking.StatusConfirmed || full.PaymentMethod != "card" {
		t.Fatalf("unexpected booking after balance: %+v", full)
	}

	_, err = f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "DEPOSIT_PAID"})
	requireKind(t, err, booking.KindInvalidTransition)

	f.clock.Set(time.Date(2030, time.June, 2, 10, 0, 0, 0, time.UTC))
	active, err := f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: "ACTIVE", Actor: "staff:3"})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != booking.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", active.Status)
	}
	if f.events.last().Type != booking.EventBookingStatusChanged {
		t.Fatalf("expected booking.status_changed, got %s", f.events.last().Type)
	}
}

func TestSessionStatusesWaitForTheSession(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, "2030-06-05", "10:00", "11:30")
	ctx := context.Background()

	if _, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "DEPOSIT_PAID"}); err != nil {
		t.Fatalf("pay deposit: %v", err)
	}

	_, err := f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: "ACTIVE", Actor: "staff:3"})
	requireKind(t, err, booking.KindInvalidTransition)

	f.clock.Set(time.Date(2030, time.June, 5, 10, 0, 0, 0, time.UTC))
	if _, err := f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: "ACTIVE", Actor: "staff:3"}); err != nil {
		t.Fatalf("activate at start: %v", err)
	}

	f.clock.Set(time.Date(2030, time.June, 5, 11, 0, 0, 0, time.UTC))
	_, err = f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: "COMPLETED", Actor: "staff:3"})
	requireKind(t, err, booking.KindInvalidTransition)

	current, err := f.engine.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if current.Status != booking.StatusActive {
		t.Fatalf("expected booking to stay ACTIVE, got %s", current.Status)
	}

	cancelled, _, err := f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, Reason: "injury", CancelledBy: "staff:3"})
	if err != nil || cancelled.Status != booking.StatusCancelled {
		t.Fatalf("expected an active booking to remain cancellable, got %s (%v)", cancelled.Status, err)
	}
}

func TestFailedPaymentKeepsBookingPending(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")
	ctx := context.Background()

	failed, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "FAILED"})
	if err != nil {
		t.Fatalf("update payment: %v", err)
	}
	if failed.Status != booking.StatusPending || failed.PaymentStatus != booking.PaymentFailed {
		t.Fatalf("expected PENDING/FAILED, got %s/%s", failed.Status, failed.PaymentStatus)
	}
	if f.events.last().Type != booking.EventBookingPaymentFailed {
		t.Fatalf("expected booking.payment_failed, got %s", f.events.last().Type)
	}

	retried, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "FULLY_PAID", Method: "transfer"})
	if err != nil {
		t.Fatalf("retry payment: %v", err)
	}
	if retried.Status != booking.StatusConfirmed {
		t.Fatalf("expected CONFIRMED after retry, got %s", retried.Status)
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: 9999, Status: "ACTIVE"})
	requireKind(t, err, booking.KindNotFound)

	_, err = f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: 9999, Status: "FULLY_PAID"})
	requireKind(t, err, booking.KindNotFound)

	b := f.create(t, tomorrow, "10:00", "11:30")
	_, err = f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: "ARCHIVED"})
	requireKind(t, err, booking.KindValidation)

	_, err = f.engine.UpdateBookingStatus(ctx, booking.StatusParams{ID: b.ID, Status: "COMPLETED"})
	requireKind(t, err, booking.KindInvalidTransition)
}

func TestUpdateStatusToCancelledAppliesPolicy(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")

	cancelled, err := f.engine.UpdateBookingStatus(context.Background(), booking.StatusParams{ID: b.ID, Status: "CANCELLED"})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if cancelled.CancelledAt == nil || cancelled.CancellationReason == "" || cancelled.CancelledBy != "system" {
		t.Fatalf("cancellation fields not set: %+v", cancelled)
	}
	if f.events.last().Type != booking.EventBookingCancelled {
		t.Fatalf("expected booking.cancelled, got %s", f.events.last().Type)
	}
}

func TestAdvanceLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.create(t, tomorrow, "10:00", "11:30")
	late := f.create(t, tomorrow, "12:00", "13:30")
	unpaid := f.create(t, tomorrow, "14:00", "15:30")
	for _, b := range []booking.Booking{early, late} {
		if _, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "FULLY_PAID"}); err != nil {
			t.Fatalf("pay: %v", err)
		}
	}

	f.clock.Set(time.Date(2030, time.June, 2, 12, 15, 0, 0, time.UTC))
	result, err := f.engine.AdvanceLifecycle(ctx)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Activated != 2 || result.Completed != 1 {
		t.Fatalf("expected 2 activated and 1 completed, got %+v", result)
	}

	want := map[int64]booking.Status{
		early.ID:  booking.StatusCompleted,
		late.ID:   booking.StatusActive,
		unpaid.ID: booking.StatusPending,
	}
	for id, status := range want {
		got, err := f.engine.GetBooking(ctx, id)
		if err != nil {
			t.Fatalf("get booking: %v", err)
		}
		if got.Status != status {
			t.Fatalf("booking %d: expected %s, got %s", id, status, got.Status)
		}
	}

	f.clock.Set(time.Date(2030, time.June, 2, 14, 0, 0, 0, time.UTC))
	result, err = f.engine.AdvanceLifecycle(ctx)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Activated != 0 || result.Completed != 1 {
		t.Fatalf("expected 1 completed, got %+v", result)
	}
}

func TestCreatePaymentPreference(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")
	ctx := context.Background()

	pref, err := f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: 600})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID == "" || pref.InitPoint == "" {
		t.Fatalf("unexpected preference %+v", pref)
	}

	req := f.payments.requests[0]
	if req.AmountCents != 600 || req.UserID != 42 || req.Currency != "usd" {
		t.Fatalf("unexpected request %+v", req)
	}
	if want := f.clock.Now().Add(booking.DefaultPreferenceTTL); !req.ExpiresAt.Equal(want) {
		t.Fatalf("expected default expiry %s, got %s", want, req.ExpiresAt)
	}

	_, err = f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: 1201})
	requireKind(t, err, booking.KindValidation)

	_, err = f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: 0})
	requireKind(t, err, booking.KindValidation)

	_, err = f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: 9999, AmountCents: 100})
	requireKind(t, err, booking.KindValidation)

	_, err = f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{
		BookingID: b.ID, AmountCents: 100, ExpiresAt: f.clock.Now().Add(-time.Minute),
	})
	requireKind(t, err, booking.KindValidation)

	f.payments.err = errors.New("gateway exploded")
	_, err = f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: 100})
	requireKind(t, err, booking.KindPaymentProvider)
	if !errors.Is(err, f.payments.err) {
		t.Fatal("provider error should wrap the gateway cause")
	}
	f.payments.err = nil

	if _, _, err := f.engine.CancelBooking(ctx, booking.CancelParams{ID: b.ID, Reason: "rain", CancelledBy: "user:42"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: 100})
	requireKind(t, err, booking.KindValidation)
}

func TestPaymentPreferenceLimitedToBalance(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, tomorrow, "10:00", "11:30")
	ctx := context.Background()

	if _, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "DEPOSIT_PAID"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	_, err := f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: 1200})
	requireKind(t, err, booking.KindValidation)
	if _, err := f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: 600}); err != nil {
		t.Fatalf("remaining balance should be payable: %v", err)
	}

	if _, err := f.engine.UpdatePaymentStatus(ctx, booking.PaymentParams{ID: b.ID, Status: "FULLY_PAID"}); err != nil {
		t.Fatalf("full payment: %v", err)
	}
	for _, amount := range []int64{1, 1200} {
		_, err = f.engine.CreatePaymentPreference(ctx, booking.PreferenceParams{BookingID: b.ID, AmountCents: amount})
		requireKind(t, err, booking.KindValidation)
	}
	if len(f.payments.requests) != 1 {
		t.Fatalf("expected one gateway request, got %d", len(f.payments.requests))
	}
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("sink down")

	b := f.create(t, tomorrow, "10:00", "11:30")
	if _, err := f.engine.GetBooking(context.Background(), b.ID); err != nil {
		t.Fatalf("booking should be committed despite the sink failure: %v", err)
	}
}

type flakyStore struct {
	booking.BookingStore
	failures int32
	attempts int32
}

func (s *flakyStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx booking.BookingStore) error) error {
	n := atomic.AddInt32(&s.attempts, 1)
	if n <= atomic.LoadInt32(&s.failures) {
		return fmt.Errorf("begin transaction: %w", booking.ErrStoreTimeout)
	}
	return s.BookingStore.WithTransaction(ctx, fn)
}

func TestStoreTimeoutIsRetriedOnce(t *testing.T) {
	f := newFixture(t)

	flaky := &flakyStore{BookingStore: f.store, failures: 1}
	engine := f.newEngine(t, flaky)
	if _, err := engine.CreateBooking(context.Background(), booking.CreateParams{
		CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "10:00", EndTime: "11:30",
	}); err != nil {
		t.Fatalf("expected success after one retry: %v", err)
	}
	if flaky.attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", flaky.attempts)
	}

	stuck := &flakyStore{BookingStore: f.store, failures: 100}
	engine = f.newEngine(t, stuck)
	_, err := engine.CreateBooking(context.Background(), booking.CreateParams{
		CourtID: f.court.ID, UserID: 1, Date: tomorrow, StartTime: "12:00", EndTime: "13:30",
	})
	requireKind(t, err, booking.KindInternal)
	if !errors.Is(err, booking.ErrStoreTimeout) {
		t.Fatalf("expected the timeout to be wrapped, got %v", err)
	}
	if stuck.attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", stuck.attempts)
	}
}
