package booking

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timeOfDayLayout = "15:04"
	minutesPerDay   = 24 * 60
)

// Date is a calendar date with no time-of-day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD value.
func ParseDate(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, fmt.Errorf("date is required")
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return Date{}, fmt.Errorf("date must be in YYYY-MM-DD format")
	}
	return DateOf(parsed), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	year, month, day := t.Date()
	return Date{Year: year, Month: month, Day: day}
}

func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// At returns the instant at which the given time of day occurs on d in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// 24:00 is accepted so that a court may close at midnight.
type TimeOfDay int

// ParseTimeOfDay parses an HH:MM value.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("time is required")
	}
	if value == "24:00" {
		return minutesPerDay, nil
	}
	parsed, err := time.Parse(timeOfDayLayout, value)
	if err != nil {
		return 0, fmt.Errorf("time must be in HH:MM format")
	}
	return TimeOfDay(parsed.Hour()*60 + parsed.Minute()), nil
}

func (t TimeOfDay) Hour() int {
	return int(t) / 60
}

func (t TimeOfDay) Minute() int {
	return int(t) % 60
}

// Add returns t shifted by d, truncated to whole minutes.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

// Sub returns the duration between u and t.
func (t TimeOfDay) Sub(u TimeOfDay) time.Duration {
	return time.Duration(t-u) * time.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// OperatingHours describe the bookable day of a court.
type OperatingHours struct {
	Opens       TimeOfDay `json:"opensAt"`
	Closes      TimeOfDay `json:"closesAt"`
	SlotMinutes int       `json:"slotMinutes"`
}

func (h OperatingHours) SlotDuration() time.Duration {
	return time.Duration(h.SlotMinutes) * time.Minute
}

// Contains reports whether [start, end) lies within opening hours.
func (h OperatingHours) Contains(start, end TimeOfDay) bool {
	return start >= h.Opens && end <= h.Closes
}

type Court struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	BasePriceCents  int64          `json:"basePrice"`
	PriceMultiplier float64        `json:"priceMultiplier"`
	Hours           OperatingHours `json:"operatingHours"`
	IsActive        bool           `json:"isActive"`
}

type Booking struct {
	ID                 int64         `json:"id"`
	CourtID            int64         `json:"courtId"`
	UserID             int64         `json:"userId"`
	BookingDate        Date          `json:"bookingDate"`
	StartTime          TimeOfDay     `json:"startTime"`
	EndTime            TimeOfDay     `json:"endTime"`
	DurationMinutes    int           `json:"durationMinutes"`
	TotalPriceCents    int64         `json:"totalPrice"`
	DepositAmountCents int64         `json:"depositAmount"`
	Status             Status        `json:"status"`
	PaymentStatus      PaymentStatus `json:"paymentStatus"`
	PaymentMethod      string        `json:"paymentMethod,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	CancelledBy        string        `json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time    `json:"cancelledAt,omitempty"`
	RefundGranted      *bool         `json:"refundGranted,omitempty"`
	RefundAmountCents  int64         `json:"refundAmount,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// StartsAt returns the instant the booked session begins in loc.
func (b Booking) StartsAt(loc *time.Location) time.Time {
	return b.BookingDate.At(b.StartTime, loc)
}

// EndsAt returns the instant the booked session ends in loc.
func (b Booking) EndsAt(loc *time.Location) time.Time {
	return b.BookingDate.At(b.EndTime, loc)
}

// Slot is a candidate bookable window. It is derived, never persisted.
type Slot struct {
	CourtID     int64     `json:"courtId"`
	Date        Date      `json:"date"`
	StartTime   TimeOfDay `json:"startTime"`
	EndTime     TimeOfDay `json:"endTime"`
	IsAvailable bool      `json:"isAvailable"`
}
