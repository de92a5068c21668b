package booking

import (
	"context"
	"time"
)

// DefaultPreferenceTTL is how long a payment preference stays redeemable when
// the caller does not say.
const DefaultPreferenceTTL = 30 * time.Minute

// BackURLs are where the gateway sends the payer after checkout.
type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type PreferenceRequest struct {
	BookingID   int64
	Title       string
	Description string
	// AmountCents is in minor currency units. Adapters convert as their
	// gateway requires.
	AmountCents int64
	Currency    string
	ExpiresAt   time.Time
	UserID      int64
	BackURLs    *BackURLs
}

// Preference is a redeemable payment intent issued by a gateway.
type Preference struct {
	ID               string `json:"preferenceId"`
	InitPoint        string `json:"initPoint"`
	SandboxInitPoint string `json:"sandboxInitPoint,omitempty"`
}

// PaymentPreferenceAdapter issues payment intents. Gateway failures are
// returned as PaymentProviderError.
type PaymentPreferenceAdapter interface {
	Name() string
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
}
