package booking

import (
	"context"
	"math"
	"strconv"
	"strings"
)

// DepositPercentageKey is the system setting holding the deposit share (0-100).
const DepositPercentageKey = "deposit_percentage"

// SettingsReader exposes operator-managed system settings.
type SettingsReader interface {
	Setting(ctx context.Context, key string) (value string, ok bool, err error)
}

type Quote struct {
	TotalCents        int64
	DepositCents      int64
	DepositPercentage float64
}

// TotalPrice is the court's per-booking rate. It does not depend on how long
// the booking lasts.
func TotalPrice(court Court) int64 {
	return roundCents(float64(court.BasePriceCents) * court.PriceMultiplier)
}

// DepositAmount returns percentage% of total, rounded to the minor unit.
func DepositAmount(total int64, percentage float64) int64 {
	return roundCents(float64(total) * percentage / 100)
}

// ParseDepositPercentage validates a raw deposit_percentage setting value.
func ParseDepositPercentage(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ConfigurationError("%s is not configured", DepositPercentageKey)
	}
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, ConfigurationError("%s must be numeric", DepositPercentageKey)
	}
	if pct < 0 || pct > 100 {
		return 0, ConfigurationError("%s must be between 0 and 100", DepositPercentageKey)
	}
	return pct, nil
}

// PriceBooking computes the money fields for a new booking on court.
func PriceBooking(ctx context.Context, court Court, settings SettingsReader) (Quote, error) {
	if settings == nil {
		return Quote{}, ConfigurationError("system settings are unavailable")
	}
	raw, ok, err := settings.Setting(ctx, DepositPercentageKey)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, ConfigurationError("%s is not configured", DepositPercentageKey)
	}
	pct, err := ParseDepositPercentage(raw)
	if err != nil {
		return Quote{}, err
	}

	total := TotalPrice(court)
	return Quote{
		TotalCents:        total,
		DepositCents:      DepositAmount(total, pct),
		DepositPercentage: pct,
	}, nil
}

// roundCents rounds half away from zero. It is the only rounding rule used for
// money.
func roundCents(value float64) int64 {
	return int64(math.Round(value))
}
