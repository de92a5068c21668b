package email

import (
	"fmt"
	"strings"
	"time"
)

type Message struct {
	Subject string
	Body    string
}

// BookingDetails is what every booking email shows about the reservation.
type BookingDetails struct {
	FacilityName string
	BookingID    int64
	CourtID      int64
	Date         string
	TimeRange    string
	Currency     string
	TotalCents   int64
	DepositCents int64
}

type CancellationDetails struct {
	BookingDetails
	Reason        string
	RefundGranted bool
	RefundCents   int64
	RetainedCents int64
}

type PaymentDetails struct {
	BookingDetails
	PaymentStatus string
	PaymentMethod string
	Confirmed     bool
}

func FormatDateTimeRange(start, end time.Time) (string, string) {
	date := start.Format("Monday, Jan 2, 2006")
	timeRange := fmt.Sprintf("%s - %s %s", start.Format("3:04 PM"), end.Format("3:04 PM"), start.Format("MST"))
	return date, timeRange
}

// FormatAmount renders minor units as a decimal amount with the currency code.
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "USD"
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, code)
}

func BuildBookingCreatedEmail(details BookingDetails) Message {
	lines := append(summaryLines("Your court booking has been received.", details),
		fmt.Sprintf("Deposit due: %s", FormatAmount(details.DepositCents, details.Currency)),
		"",
		"The booking is held as pending until a payment is received.",
	)
	return Message{
		Subject: subject("Booking Received", details),
		Body:    strings.Join(lines, "\n"),
	}
}

func BuildPaymentReceivedEmail(details PaymentDetails) Message {
	headline := "We received your payment."
	if details.Confirmed {
		headline = "We received your payment and your booking is confirmed."
	}
	lines := summaryLines(headline, details.BookingDetails)
	lines = append(lines, fmt.Sprintf("Payment status: %s", paymentLabel(details.PaymentStatus)))
	if method := strings.TrimSpace(details.PaymentMethod); method != "" {
		lines = append(lines, fmt.Sprintf("Payment method: %s", method))
	}

	title := "Payment Received"
	if details.Confirmed {
		title = "Booking Confirmed"
	}
	return Message{
		Subject: subject(title, details.BookingDetails),
		Body:    strings.Join(lines, "\n"),
	}
}

func BuildPaymentFailedEmail(details PaymentDetails) Message {
	lines := append(summaryLines("Your payment could not be processed.", details.BookingDetails),
		"",
		"Your booking is still pending. Please try the payment again to keep your court.",
	)
	return Message{
		Subject: subject("Payment Failed", details.BookingDetails),
		Body:    strings.Join(lines, "\n"),
	}
}

func BuildCancellationEmail(details CancellationDetails) Message {
	lines := summaryLines("Your court booking has been cancelled.", details.BookingDetails)

	if reason := strings.TrimSpace(details.Reason); reason != "" {
		lines = append(lines, fmt.Sprintf("Reason: %s", reason))
	}
	switch {
	case details.RefundGranted && details.RefundCents > 0:
		lines = append(lines, fmt.Sprintf("Refund: %s will be released to your payment method.", FormatAmount(details.RefundCents, details.Currency)))
	case details.RefundGranted:
		lines = append(lines, "No payment was taken, so nothing is owed.")
	default:
		lines = append(lines, "The cancellation was made too close to the start time for a refund.")
		if details.RetainedCents > 0 {
			lines = append(lines, fmt.Sprintf("Deposit retained: %s", FormatAmount(details.RetainedCents, details.Currency)))
		}
		if details.RefundCents > 0 {
			lines = append(lines, fmt.Sprintf("Refund of the balance: %s", FormatAmount(details.RefundCents, details.Currency)))
		}
	}

	return Message{
		Subject: subject("Booking Cancelled", details.BookingDetails),
		Body:    strings.Join(lines, "\n"),
	}
}

func subject(title string, details BookingDetails) string {
	return fmt.Sprintf("%s - %s", title, facilityName(details))
}

func summaryLines(headline string, details BookingDetails) []string {
	date := strings.TrimSpace(details.Date)
	if date == "" {
		date = "TBD"
	}
	timeRange := strings.TrimSpace(details.TimeRange)
	if timeRange == "" {
		timeRange = "TBD"
	}

	return []string{
		headline,
		"",
		fmt.Sprintf("Facility: %s", facilityName(details)),
		fmt.Sprintf("Booking: #%d", details.BookingID),
		fmt.Sprintf("Court: %d", details.CourtID),
		fmt.Sprintf("Date: %s", date),
		fmt.Sprintf("Time: %s", timeRange),
		fmt.Sprintf("Total: %s", FormatAmount(details.TotalCents, details.Currency)),
	}
}

func facilityName(details BookingDetails) string {
	name := strings.TrimSpace(details.FacilityName)
	if name == "" {
		return "your facility"
	}
	return name
}

func paymentLabel(status string) string {
	switch strings.TrimSpace(status) {
	case "DEPOSIT_PAID":
		return "Deposit paid"
	case "FULLY_PAID":
		return "Paid in full"
	case "FAILED":
		return "Failed"
	case "PENDING":
		return "Pending"
	}
	return status
}
