package booking

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusActive, StatusCancelled},
	StatusActive:    {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(value)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %q", value)
	}
	return status, nil
}

// PaymentStatus is the money-side state of a booking.
type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "PENDING"
	PaymentDepositPaid PaymentStatus = "DEPOSIT_PAID"
	PaymentFullyPaid   PaymentStatus = "FULLY_PAID"
	PaymentFailed      PaymentStatus = "FAILED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:     {PaymentDepositPaid, PaymentFullyPaid, PaymentFailed},
	PaymentDepositPaid: {PaymentFullyPaid},
	PaymentFailed:      {PaymentDepositPaid, PaymentFullyPaid},
	PaymentFullyPaid:   {},
}

func (p PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[p]
	return ok
}

func (p PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range paymentTransitions[p] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Settled reports whether money has been received for the booking.
func (p PaymentStatus) Settled() bool {
	return p == PaymentDepositPaid || p == PaymentFullyPaid
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid payment status: %q", value)
	}
	return status, nil
}

// checkStatusTransition applies the booking lifecycle graph plus the rules
// that a booking is only confirmed once money has been received and only
// starts or completes once its session has started or ended at now.
func checkStatusTransition(b Booking, target Status, now time.Time, loc *time.Location) error {
	if !b.Status.CanTransitionTo(target) {
		return InvalidTransitionError("booking cannot move from %s to %s", b.Status, target)
	}
	switch target {
	case StatusConfirmed:
		if !b.PaymentStatus.Settled() {
			return InvalidTransitionError("booking cannot be confirmed while payment is %s", b.PaymentStatus)
		}
	case StatusActive:
		if now.Before(b.StartsAt(loc)) {
			return InvalidTransitionError("booking cannot become ACTIVE before its session starts")
		}
	case StatusCompleted:
		if now.Before(b.EndsAt(loc)) {
			return InvalidTransitionError("booking cannot be COMPLETED before its session ends")
		}
	}
	return nil
}

func checkPaymentTransition(b Booking, target PaymentStatus) error {
	if b.Status == StatusCancelled {
		return InvalidTransitionError("payment cannot change on a cancelled booking")
	}
	if !b.PaymentStatus.CanTransitionTo(target) {
		return InvalidTransitionError("payment cannot move from %s to %s", b.PaymentStatus, target)
	}
	return nil
}
