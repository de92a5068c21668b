// Package payment contains the payment gateway adapters the booking engine
// issues preferences through.
package payment

import (
	"fmt"
	"strings"

	"github.com/codr1/courtbook/internal/booking"
	"github.com/codr1/courtbook/internal/config"
)

// NewAdapter returns the adapter named by cfg.Payment.Provider.
func NewAdapter(cfg *config.Config) (booking.PaymentPreferenceAdapter, error) {
	switch strings.ToLower(cfg.Payment.Provider) {
	case "mock":
		return NewMockAdapter(cfg.App.BaseURL), nil
	case "stripe":
		adapter, err := NewStripeAdapter(cfg.Payment.StripeKey, booking.BackURLs{
			Success: cfg.Payment.SuccessURL,
			Failure: cfg.Payment.FailureURL,
			Pending: cfg.Payment.PendingURL,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe adapter: %w", err)
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", cfg.Payment.Provider)
	}
}
