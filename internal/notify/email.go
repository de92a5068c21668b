package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtbook/internal/booking"
	"github.com/codr1/courtbook/internal/email"
)

// EmailNotifier emails the booking's user about creation, payment and
// cancellation. Sends are asynchronous, so Notify only fails on programming
// errors.
type EmailNotifier struct {
	users    email.ContactLookup
	client   email.EmailSender
	from     string
	facility string
	currency string
	loc      *time.Location

	// sent receives the completion channel of each dispatched send. Tests
	// use it to wait for delivery.
	sent func(<-chan struct{})
}

type EmailOptions struct {
	Users        email.ContactLookup
	Client       email.EmailSender
	FromAddress  string
	FacilityName string
	Currency     string
	Location     *time.Location
}

func NewEmailNotifier(opts EmailOptions) *EmailNotifier {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &EmailNotifier{
		users:    opts.Users,
		client:   opts.Client,
		from:     opts.FromAddress,
		facility: opts.FacilityName,
		currency: opts.Currency,
		loc:      loc,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, event booking.Event) error {
	b, ok := event.Payload["booking"].(booking.Booking)
	if !ok {
		return nil
	}

	message, ok := n.message(event, b)
	if !ok {
		return nil
	}

	logger := log.Ctx(ctx).With().
		Str("component", "email_notifier").
		Str("event_type", string(event.Type)).
		Int64("booking_id", b.ID).
		Logger()
	done := email.SendBookingEmail(ctx, n.users, n.client, b.UserID, message, n.from, &logger)
	if n.sent != nil {
		n.sent(done)
	}
	return nil
}

func (n *EmailNotifier) message(event booking.Event, b booking.Booking) (email.Message, bool) {
	details := n.details(b)

	switch event.Type {
	case booking.EventBookingCreated:
		return email.BuildBookingCreatedEmail(details), true
	case booking.EventBookingPaid:
		confirmed, _ := event.Payload["confirmed"].(bool)
		return email.BuildPaymentReceivedEmail(email.PaymentDetails{
			BookingDetails: details,
			PaymentStatus:  string(b.PaymentStatus),
			PaymentMethod:  b.PaymentMethod,
			Confirmed:      confirmed,
		}), true
	case booking.EventBookingPaymentFailed:
		return email.BuildPaymentFailedEmail(email.PaymentDetails{
			BookingDetails: details,
			PaymentStatus:  string(b.PaymentStatus),
		}), true
	case booking.EventBookingCancelled:
		decision, _ := event.Payload["refund"].(booking.RefundDecision)
		return email.BuildCancellationEmail(email.CancellationDetails{
			BookingDetails: details,
			Reason:         b.CancellationReason,
			RefundGranted:  decision.Granted,
			RefundCents:    decision.RefundCents,
			RetainedCents:  decision.RetainedCents,
		}), true
	}
	return email.Message{}, false
}

func (n *EmailNotifier) details(b booking.Booking) email.BookingDetails {
	date, timeRange := email.FormatDateTimeRange(b.StartsAt(n.loc), b.EndsAt(n.loc))
	return email.BookingDetails{
		FacilityName: n.facility,
		BookingID:    b.ID,
		CourtID:      b.CourtID,
		Date:         date,
		TimeRange:    timeRange,
		Currency:     n.currency,
		TotalCents:   b.TotalPriceCents,
		DepositCents: b.DepositAmountCents,
	}
}
