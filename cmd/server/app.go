package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtbook/internal/booking"
	"github.com/codr1/courtbook/internal/config"
	"github.com/codr1/courtbook/internal/db"
	"github.com/codr1/courtbook/internal/email"
	"github.com/codr1/courtbook/internal/notify"
	"github.com/codr1/courtbook/internal/payment"
	"github.com/codr1/courtbook/internal/scheduler"
)

// app owns the long-lived dependencies of the server process.
type app struct {
	database *db.DB
	engine   *booking.Engine
	closers  []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.database, err = db.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, a.database)

	store, err := db.NewBookingStore(a.database)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Booking.Location()
	if err != nil {
		return nil, err
	}

	payments, err := payment.NewAdapter(cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := a.buildNotifier(ctx, cfg, loc)
	if err != nil {
		return nil, err
	}

	a.engine, err = booking.NewEngine(booking.Options{
		Store:           store,
		Notifier:        notifier,
		Payments:        payments,
		Cache:           booking.NewAvailabilityCache(booking.CacheConfig{TTL: cfg.Booking.CacheTTL}),
		Location:        loc,
		SlotStride:      cfg.Booking.SlotStride(),
		RefundThreshold: cfg.Booking.RefundThreshold,
		TxTimeout:       cfg.Booking.TxTimeout,
		Currency:        cfg.Payment.Currency,
		PreferenceTTL:   cfg.Payment.PreferenceTTL,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Scheduler.Enabled {
		if err := scheduler.Init(); err != nil {
			return nil, fmt.Errorf("init scheduler: %w", err)
		}
		if err := scheduler.RegisterLifecycleJob(a.engine, cfg.Scheduler.LifecycleCron); err != nil {
			return nil, err
		}
		if err := scheduler.Start(); err != nil {
			return nil, fmt.Errorf("start scheduler: %w", err)
		}
	}

	log.Info().
		Str("payment_provider", payments.Name()).
		Str("timezone", loc.String()).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("Booking engine ready")
	return a, nil
}

// buildNotifier assembles the enabled event sinks.
func (a *app) buildNotifier(ctx context.Context, cfg *config.Config, loc *time.Location) (booking.EventNotifier, error) {
	n := cfg.Notifications
	var sinks notify.Multi

	if n.Log {
		sinks = append(sinks, notify.LogNotifier{})
	}

	if n.Redis.Enabled {
		redisNotifier, err := notify.NewRedisNotifier(n.Redis.URL, n.Redis.Channel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, redisNotifier)
		if err := redisNotifier.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		sinks = append(sinks, redisNotifier)
	}

	if n.AMQP.Enabled {
		amqpNotifier, err := notify.NewAMQPNotifier(n.AMQP.URL, n.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, amqpNotifier)
		sinks = append(sinks, amqpNotifier)
	}

	if n.Email.Enabled {
		client, err := email.NewSESClient(n.Email.AccessKeyID, n.Email.SecretAccessKey, n.Email.Region, n.Email.FromAddress)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notify.NewEmailNotifier(notify.EmailOptions{
			Users:        a.database.Queries,
			Client:       client,
			FromAddress:  n.Email.FromAddress,
			FacilityName: n.Email.FacilityName,
			Currency:     cfg.Payment.Currency,
			Location:     loc,
		}))
	}

	log.Info().Int("sinks", len(sinks)).Msg("Event notifiers configured")
	return sinks, nil
}

// Close stops background work and releases connections in reverse order of
// acquisition. It is safe to call more than once.
func (a *app) Close() {
	if a.engine != nil {
		if err := scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotInitialized) {
			log.Error().Err(err).Msg("Failed to stop scheduler")
		}
		a.engine.Close()
		a.engine = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
