// internal/payment/stripe.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/codr1/courtbook/internal/booking"
)

// Stripe only accepts checkout session expiries in this window, measured from
// creation. Requests up to expirySkew short of the minimum are raised to it so
// an expiry computed a moment earlier at exactly the minimum still passes.
const (
	stripeMinExpiry = 30 * time.Minute
	stripeMaxExpiry = 24 * time.Hour
	expirySkew      = time.Minute
)

// checkoutSessions is the part of the Stripe client the adapter uses.
type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeAdapter issues payment preferences as Stripe Checkout Sessions.
type StripeAdapter struct {
	sessions checkoutSessions
	testMode bool
	defaults booking.BackURLs
	now      func() time.Time
}

var _ booking.PaymentPreferenceAdapter = (*StripeAdapter)(nil)

// NewStripeAdapter creates an adapter for the given secret key. defaults are
// used for any back URL a request leaves empty.
func NewStripeAdapter(secretKey string, defaults booking.BackURLs) (*StripeAdapter, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return newStripeAdapter(sc.CheckoutSessions, strings.HasPrefix(secretKey, "sk_test_"), defaults), nil
}

func newStripeAdapter(sessions checkoutSessions, testMode bool, defaults booking.BackURLs) *StripeAdapter {
	return &StripeAdapter{
		sessions: sessions,
		testMode: testMode,
		defaults: defaults,
		now:      time.Now,
	}
}

func (a *StripeAdapter) Name() string { return "stripe" }

func (a *StripeAdapter) CreatePreference(ctx context.Context, req booking.PreferenceRequest) (booking.Preference, error) {
	urls := a.defaults
	if req.BackURLs != nil {
		if req.BackURLs.Success != "" {
			urls.Success = req.BackURLs.Success
		}
		if req.BackURLs.Failure != "" {
			urls.Failure = req.BackURLs.Failure
		}
	}
	if urls.Success == "" {
		return booking.Preference{}, booking.ValidationError("a success back URL is required")
	}

	expiresAt, err := a.expiry(req.ExpiresAt)
	if err != nil {
		return booking.Preference{}, err
	}

	bookingID := strconv.FormatInt(req.BookingID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(bookingID),
		SuccessURL:        stripe.String(urls.Success),
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.Title),
						Description: stripe.String(req.Description),
					},
				},
			},
		},
	}
	if urls.Failure != "" {
		params.CancelURL = stripe.String(urls.Failure)
	}
	params.Context = ctx
	params.AddMetadata("booking_id", bookingID)
	if req.UserID > 0 {
		params.AddMetadata("user_id", strconv.FormatInt(req.UserID, 10))
	}

	session, err := a.sessions.New(params)
	if err != nil {
		return booking.Preference{}, booking.PaymentProviderError(a.Name(), fmt.Errorf("create checkout session: %w", err))
	}

	log.Ctx(ctx).Debug().
		Str("component", "stripe_adapter").
		Int64("booking_id", req.BookingID).
		Str("session_id", session.ID).
		Msg("Checkout session created")

	pref := booking.Preference{
		ID:        session.ID,
		InitPoint: session.URL,
	}
	if a.testMode {
		pref.SandboxInitPoint = session.URL
	}
	return pref, nil
}

// expiry checks the requested expiry against the window Stripe accepts.
func (a *StripeAdapter) expiry(requested time.Time) (time.Time, error) {
	now := a.now()
	earliest := now.Add(stripeMinExpiry)
	if requested.Before(earliest.Add(-expirySkew)) {
		return time.Time{}, booking.ValidationError("stripe checkout expiry must be at least %s after creation", stripeMinExpiry)
	}
	if requested.After(now.Add(stripeMaxExpiry)) {
		return time.Time{}, booking.ValidationError("stripe checkout expiry must be within %s of creation", stripeMaxExpiry)
	}
	if requested.Before(earliest) {
		return earliest, nil
	}
	return requested, nil
}
