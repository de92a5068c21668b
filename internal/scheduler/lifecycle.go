package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtbook/internal/booking"
)

const (
	lifecycleJobName    = "booking_lifecycle"
	lifecycleJobTimeout = 2 * time.Minute
)

// LifecycleAdvancer moves bookings whose session has started or ended along
// the status graph.
type LifecycleAdvancer interface {
	AdvanceLifecycle(ctx context.Context) (booking.LifecycleResult, error)
}

// RegisterLifecycleJob schedules the booking lifecycle sweep on the singleton
// scheduler.
func RegisterLifecycleJob(advancer LifecycleAdvancer, cronExpr string) error {
	svc, err := ServiceInstance()
	if err != nil {
		return err
	}
	return registerLifecycleJob(svc, advancer, cronExpr)
}

func registerLifecycleJob(svc *Service, advancer LifecycleAdvancer, cronExpr string) error {
	if advancer == nil {
		return errors.New("lifecycle job requires an advancer")
	}

	jobLogger := log.With().
		Str("component", "booking_lifecycle_job").
		Str("job_name", lifecycleJobName).
		Str("cron", cronExpr).
		Logger()

	_, err := svc.AddJob(lifecycleJobName, cronExpr, func() error {
		return runLifecycle(context.Background(), advancer, jobLogger)
	})
	return err
}

func runLifecycle(parent context.Context, advancer LifecycleAdvancer, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(parent, lifecycleJobTimeout)
	defer cancel()
	ctx = logger.WithContext(ctx)

	result, err := advancer.AdvanceLifecycle(ctx)
	if err != nil {
		logger.Error().
			Err(err).
			Int("activated", result.Activated).
			Int("completed", result.Completed).
			Msg("Booking lifecycle sweep finished with errors")
		return err
	}
	if result.Activated > 0 || result.Completed > 0 {
		logger.Info().
			Int("activated", result.Activated).
			Int("completed", result.Completed).
			Msg("Booking lifecycle sweep advanced bookings")
	}
	return nil
}
