// Package handler contains HTTP request handlers for the FastCare API.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/service"
)

const maxBodyBytes = 1 << 20

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON request body into v. On failure it writes the
// 400 response itself and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON.")
		return false
	}
	return true
}

// writeServiceError maps service errors to HTTP responses.
//
// Response codes:
//
//	400  invalid input
//	404  booking or vehicle not found
//	408  timed out waiting for row locks
//	409  transition not allowed, booking closed, vehicle busy, duplicate
//	503  server shutting down
//	500  unexpected error
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Booking not found.")
	case errors.Is(err, service.ErrVehicleNotFound):
		writeError(w, http.StatusNotFound, "vehicle_not_found", "Vehicle not found.")
	case errors.Is(err, service.ErrTimeout):
		writeError(w, http.StatusRequestTimeout, "timeout", "Timed out due to high contention. Please retry.")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "The booking cannot move to that status.")
	case errors.Is(err, service.ErrBookingClosed):
		writeError(w, http.StatusConflict, "booking_closed", "This booking is already completed or cancelled.")
	case errors.Is(err, service.ErrVehicleUnavailable):
		writeError(w, http.StatusConflict, "vehicle_unavailable", "The vehicle is not available.")
	case errors.Is(err, service.ErrDuplicateVehicle):
		writeError(w, http.StatusConflict, "duplicate_vehicle", "A vehicle with this number is already registered.")
	case errors.Is(err, feed.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "")
	default:
		log.Printf("[handler] %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
