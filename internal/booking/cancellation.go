package booking

import "time"

// DefaultRefundThreshold is the minimum notice for a refunded cancellation.
const DefaultRefundThreshold = 2 * time.Hour

// Refund outcomes reported with every cancellation.
const (
	OutcomeFundsReleased   = "FUNDS_RELEASED"
	OutcomeDepositRetained = "DEPOSIT_RETAINED"
)

// RefundDecision is the money-side result of a cancellation. The engine only
// records it; reversing payments is left to whoever consumes the event.
type RefundDecision struct {
	Granted         bool    `json:"granted"`
	Outcome         string  `json:"outcome"`
	HoursUntilStart float64 `json:"hoursUntilStart"`
	RefundCents     int64   `json:"refundAmount"`
	RetainedCents   int64   `json:"retainedAmount"`
}

// AmountPaid returns how much has been collected for b given its payment
// status.
func AmountPaid(b Booking) int64 {
	switch b.PaymentStatus {
	case PaymentDepositPaid:
		return b.DepositAmountCents
	case PaymentFullyPaid:
		return b.TotalPriceCents
	default:
		return 0
	}
}

// EvaluateCancellation decides the refund for cancelling b with untilStart
// left before the session. Notice of at least threshold releases everything
// paid; shorter notice retains up to the deposit and returns any excess.
func EvaluateCancellation(b Booking, untilStart, threshold time.Duration) RefundDecision {
	paid := AmountPaid(b)
	decision := RefundDecision{
		Granted:         untilStart >= threshold,
		HoursUntilStart: untilStart.Hours(),
	}
	if decision.Granted {
		decision.Outcome = OutcomeFundsReleased
		decision.RefundCents = paid
		return decision
	}

	decision.Outcome = OutcomeDepositRetained
	decision.RetainedCents = min(b.DepositAmountCents, paid)
	decision.RefundCents = paid - decision.RetainedCents
	return decision
}
