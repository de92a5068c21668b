package bookings

import (
	"net/http"
	"strconv"
)

// RegisterRoutes mounts the booking endpoints on mux. staffOnly wraps the
// routes that change booking or payment state on behalf of the facility.
func RegisterRoutes(mux *http.ServeMux, staffOnly func(http.Handler) http.Handler) {
	if staffOnly == nil {
		staffOnly = func(h http.Handler) http.Handler { return h }
	}

	mux.HandleFunc("POST /api/v1/bookings", HandleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings", HandleListBookings)
	mux.HandleFunc("GET /api/v1/bookings/{id}", HandleGetBooking)
	mux.HandleFunc("DELETE /api/v1/bookings/{id}", HandleCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/payment-preference", HandleCreatePaymentPreference)
	mux.Handle("PATCH /api/v1/bookings/{id}/status", staffOnly(http.HandlerFunc(HandleUpdateStatus)))
	mux.Handle("PATCH /api/v1/bookings/{id}/payment-status", staffOnly(http.HandlerFunc(HandleUpdatePaymentStatus)))
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
