package apiutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtbook/internal/booking"
)

type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if err == io.EOF {
			return fmt.Errorf("missing request body")
		}
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// StatusForKind maps an engine error kind to its HTTP status.
func StatusForKind(kind booking.Kind) int {
	switch kind {
	case booking.KindValidation:
		return http.StatusBadRequest
	case booking.KindNotFound:
		return http.StatusNotFound
	case booking.KindConflict, booking.KindInvalidTransition:
		return http.StatusConflict
	case booking.KindPaymentProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as {"error":{"kind","message"}}. Server-side
// failures get a generic message; their cause only goes to the log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := booking.KindOf(err)
	status := StatusForKind(kind)

	message := err.Error()
	var engineErr *booking.Error
	if errors.As(err, &engineErr) {
		message = engineErr.Message
	}

	logger := log.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("kind", kind.String()).Msg("Request failed")
		message = genericMessage(kind)
	} else {
		logger.Debug().Err(err).Str("kind", kind.String()).Msg("Request rejected")
	}

	if writeErr := WriteJSON(w, status, ErrorResponse{Error: ErrorBody{Kind: kind.String(), Message: message}}); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write error response")
	}
}

// WriteFieldError reports a malformed request as a validation error.
func WriteFieldError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, booking.ValidationError("%v", err))
}

func genericMessage(kind booking.Kind) string {
	switch kind {
	case booking.KindPaymentProvider:
		return "payment provider unavailable"
	case booking.KindConfiguration:
		return "service is misconfigured"
	default:
		return "internal server error"
	}
}
