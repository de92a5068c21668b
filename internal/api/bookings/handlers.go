// internal/api/bookings/handlers.go
package bookings

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtbook/internal/api/apiutil"
	"github.com/codr1/courtbook/internal/api/authz"
	"github.com/codr1/courtbook/internal/booking"
)

var (
	engine     *booking.Engine
	engineOnce sync.Once
)

type createBookingRequest struct {
	CourtID     int64  `json:"courtId"`
	UserID      *int64 `json:"userId"`
	BookingDate string `json:"bookingDate"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Notes       string `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus"`
	PaymentMethod string `json:"paymentMethod"`
}

type cancelRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelledBy"`
}

type cancelResponse struct {
	Status        booking.Status         `json:"status"`
	RefundGranted bool                   `json:"refundGranted"`
	Refund        booking.RefundDecision `json:"refund"`
	Booking       booking.Booking        `json:"booking"`
}

type preferenceRequest struct {
	AmountCents int64             `json:"amount"`
	ExpiresAt   *time.Time        `json:"expiresAt"`
	BackURLs    *booking.BackURLs `json:"backUrls"`
}

type listResponse struct {
	Bookings []booking.Booking `json:"bookings"`
}

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(e *booking.Engine) {
	if e == nil {
		return
	}
	engineOnce.Do(func() {
		engine = e
	})
}

// POST /api/v1/bookings
func HandleCreateBooking(w http.ResponseWriter, r *http.Request) {
	e, ok := requireEngine(w, r)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}

	var userID int64
	switch user := authz.UserFromContext(r.Context()); {
	case req.UserID != nil:
		userID = *req.UserID
	case user != nil:
		userID = user.ID
	}

	created, err := e.CreateBooking(r.Context(), booking.CreateParams{
		CourtID:   req.CourtID,
		UserID:    userID,
		Date:      req.BookingDate,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Notes:     req.Notes,
	})
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/bookings/"+formatID(created.ID))
	writeJSON(w, r, http.StatusCreated, created)
}

// GET /api/v1/bookings/{id}
func HandleGetBooking(w http.ResponseWriter, r *http.Request) {
	e, ok := requireEngine(w, r)
	if !ok {
		return
	}

	id, err := apiutil.PathID(r)
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}

	b, err := e.GetBooking(r.Context(), id)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

// GET /api/v1/bookings?court_id=&date=
func HandleListBookings(w http.ResponseWriter, r *http.Request) {
	e, ok := requireEngine(w, r)
	if !ok {
		return
	}

	courtID, err := apiutil.ParsePositiveInt64Field(r.URL.Query().Get("court_id"), "court_id")
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}
	date, err := apiutil.QueryString(r, "date")
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}

	list, err := e.ListBookings(r.Context(), courtID, date)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []booking.Booking{}
	}
	writeJSON(w, r, http.StatusOK, listResponse{Bookings: list})
}

// PATCH /api/v1/bookings/{id}/status
func HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := requireEngine(w, r)
	if !ok {
		return
	}

	id, err := apiutil.PathID(r)
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}
	var req statusRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}

	updated, err := e.UpdateBookingStatus(r.Context(), booking.StatusParams{
		ID:     id,
		Status: req.Status,
		Reason: req.Reason,
		Actor:  authz.UserFromContext(r.Context()).Actor(),
	})
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// PATCH /api/v1/bookings/{id}/payment-status
func HandleUpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := requireEngine(w, r)
	if !ok {
		return
	}

	id, err := apiutil.PathID(r)
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}
	var req paymentStatusRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}

	updated, err := e.UpdatePaymentStatus(r.Context(), booking.PaymentParams{
		ID:     id,
		Status: req.PaymentStatus,
		Method: req.PaymentMethod,
	})
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// DELETE /api/v1/bookings/{id}
func HandleCancelBooking(w http.ResponseWriter, r *http.Request) {
	e, ok := requireEngine(w, r)
	if !ok {
		return
	}

	id, err := apiutil.PathID(r)
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := apiutil.DecodeJSON(r, &req); err != nil {
			apiutil.WriteFieldError(w, r, err)
			return
		}
	}
	if req.CancelledBy == "" {
		req.CancelledBy = authz.UserFromContext(r.Context()).Actor()
	}

	cancelled, decision, err := e.CancelBooking(r.Context(), booking.CancelParams{
		ID:          id,
		Reason:      req.Reason,
		CancelledBy: req.CancelledBy,
	})
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cancelResponse{
		Status:        cancelled.Status,
		RefundGranted: decision.Granted,
		Refund:        decision,
		Booking:       cancelled,
	})
}

// POST /api/v1/bookings/{id}/payment-preference
func HandleCreatePaymentPreference(w http.ResponseWriter, r *http.Request) {
	e, ok := requireEngine(w, r)
	if !ok {
		return
	}

	id, err := apiutil.PathID(r)
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}
	var req preferenceRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}

	params := booking.PreferenceParams{
		BookingID:   id,
		AmountCents: req.AmountCents,
		BackURLs:    req.BackURLs,
	}
	if req.ExpiresAt != nil {
		params.ExpiresAt = *req.ExpiresAt
	}
	if user := authz.UserFromContext(r.Context()); user != nil {
		params.UserID = user.ID
	}

	pref, err := e.CreatePaymentPreference(r.Context(), params)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, pref)
}

func requireEngine(w http.ResponseWriter, r *http.Request) (*booking.Engine, bool) {
	e := loadEngine()
	if e == nil {
		log.Ctx(r.Context()).Error().Msg("Booking engine not initialized")
		apiutil.WriteError(w, r, booking.InternalError("booking engine not initialized", nil))
		return nil, false
	}
	return e, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if err := apiutil.WriteJSON(w, status, payload); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write response")
	}
}

func loadEngine() *booking.Engine {
	return engine
}
