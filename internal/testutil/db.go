package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codr1/courtbook/internal/booking"
	"github.com/codr1/courtbook/internal/db"
)

// NewTestDB creates a temporary SQLite database with migrations applied.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// CourtOption adjusts the court created by SeedCourt.
type CourtOption func(*db.CreateCourtParams)

func WithPricing(baseCents int64, multiplier float64) CourtOption {
	return func(p *db.CreateCourtParams) {
		p.BasePriceCents = baseCents
		p.PriceMultiplier = multiplier
	}
}

func WithHours(opensAt, closesAt string, slotMinutes int) CourtOption {
	return func(p *db.CreateCourtParams) {
		p.OpensAt = opensAt
		p.ClosesAt = closesAt
		p.SlotMinutes = slotMinutes
	}
}

func Inactive() CourtOption {
	return func(p *db.CreateCourtParams) {
		p.IsActive = false
	}
}

// SeedCourt inserts an active court priced at 1000 x 1.2 that is open from
// 08:00 to 22:00 with 90 minute slots, then applies opts.
func SeedCourt(t *testing.T, database *db.DB, opts ...CourtOption) booking.Court {
	t.Helper()

	params := db.CreateCourtParams{
		Name:            "Court 1",
		BasePriceCents:  1000,
		PriceMultiplier: 1.2,
		OpensAt:         "08:00",
		ClosesAt:        "22:00",
		SlotMinutes:     90,
		IsActive:        true,
	}
	for _, opt := range opts {
		opt(&params)
	}

	court, err := database.Queries.CreateCourt(context.Background(), params)
	if err != nil {
		t.Fatalf("seed court: %v", err)
	}
	return court
}

// SetSetting overwrites a system setting.
func SetSetting(t *testing.T, database *db.DB, key, value string) {
	t.Helper()
	if err := database.Queries.UpsertSetting(context.Background(), key, value); err != nil {
		t.Fatalf("set setting %s: %v", key, err)
	}
}

// DeleteSetting removes a system setting.
func DeleteSetting(t *testing.T, database *db.DB, key string) {
	t.Helper()
	if err := database.Queries.DeleteSetting(context.Background(), key); err != nil {
		t.Fatalf("delete setting %s: %v", key, err)
	}
}

// SeedUser inserts a user contact row.
func SeedUser(t *testing.T, database *db.DB, email, firstName, lastName string) db.UserContact {
	t.Helper()
	user, err := database.Queries.CreateUser(context.Background(), db.CreateUserParams{
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// NewBookingStore returns a store over database or fails the test.
func NewBookingStore(t *testing.T, database *db.DB) *db.BookingStore {
	t.Helper()
	store, err := db.NewBookingStore(database)
	if err != nil {
		t.Fatalf("create booking store: %v", err)
	}
	return store
}

// Clock is a settable booking.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// NewEngine builds an engine over database in UTC. Fields left zero in opts
// get a store over database and the engine defaults.
func NewEngine(t *testing.T, database *db.DB, opts booking.Options) *booking.Engine {
	t.Helper()
	if opts.Store == nil {
		opts.Store = NewBookingStore(t, database)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Cache == nil && opts.Clock != nil {
		opts.Cache = booking.NewAvailabilityCache(booking.CacheConfig{Clock: opts.Clock})
	}
	engine, err := booking.NewEngine(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
