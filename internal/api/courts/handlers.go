// internal/api/courts/handlers.go
package courts

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtbook/internal/api/apiutil"
	"github.com/codr1/courtbook/internal/booking"
)

var (
	engine     *booking.Engine
	engineOnce sync.Once
)

type slotsResponse struct {
	CourtID int64          `json:"courtId"`
	Date    string         `json:"date"`
	Slots   []booking.Slot `json:"slots"`
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

// GET /api/v1/courts/{id}/slots?date=YYYY-MM-DD
func HandleSlots(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	e := loadEngine()
	if e == nil {
		logger.Error().Msg("Booking engine not initialized")
		apiutil.WriteError(w, r, booking.InternalError("booking engine not initialized", nil))
		return
	}

	courtID, err := apiutil.PathID(r)
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}
	date, err := apiutil.QueryString(r, "date")
	if err != nil {
		apiutil.WriteFieldError(w, r, err)
		return
	}

	slots, err := e.Slots(r.Context(), courtID, date)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, slotsResponse{CourtID: courtID, Date: date, Slots: slots}); err != nil {
		logger.Error().Err(err).Int64("court_id", courtID).Msg("Failed to write slots response")
	}
}

func loadEngine() *booking.Engine {
	return engine
}
