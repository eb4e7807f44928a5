package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/internal/repository"
	"github.com/shiva/fastcare/internal/service"
)

// Dispatcher is the write side the booking and vehicle handlers call.
// *service.DispatchService implements it.
type Dispatcher interface {
	CreateEmergency(ctx context.Context, req service.EmergencyRequest) (*model.Booking, error)
	CreateTransport(ctx context.Context, req service.TransportRequest) (*model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	Dispatch(ctx context.Context, bookingID, vehicleID string, eta *float64) (*repository.AssignResult, error)
	UpdateStatus(ctx context.Context, bookingID string, status model.BookingStatus, eta *float64) (*repository.StatusResult, error)

	CreateVehicle(ctx context.Context, req service.VehicleRequest) (*model.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*model.Vehicle, error)
	ReportPosition(ctx context.Context, vehicleID string, loc model.Location) (*model.Vehicle, error)
	SetVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) (*model.Vehicle, error)
	ListVehicleBookings(ctx context.Context, vehicleID string) ([]model.Booking, error)
}

// ─── Request DTOs ───────────────────────────────────────────

// DispatchBody is the JSON body for POST /api/v1/bookings/{id}/dispatch.
type DispatchBody struct {
	VehicleID  string   `json:"vehicle_id"`
	ETAMinutes *float64 `json:"eta_minutes,omitempty"`
}

// StatusBody is the JSON body for POST /api/v1/bookings/{id}/status.
type StatusBody struct {
	Status     model.BookingStatus `json:"status"`
	ETAMinutes *float64            `json:"eta_minutes,omitempty"`
}

// ─── BookingHandler ─────────────────────────────────────────

// BookingHandler handles booking intake, dispatch and status changes.
type BookingHandler struct {
	svc Dispatcher
}

// NewBookingHandler creates a new booking handler.
func NewBookingHandler(svc Dispatcher) *BookingHandler {
	return &BookingHandler{svc: svc}
}

// Register mounts the booking routes on an /api/v1 subrouter.
func (h *BookingHandler) Register(api *mux.Router) {
	api.HandleFunc("/emergency", h.CreateEmergency).Methods(http.MethodPost)
	api.HandleFunc("/transport", h.CreateTransport).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}", h.GetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/dispatch", h.Dispatch).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/status", h.UpdateStatus).Methods(http.MethodPost)
}

// CreateEmergency handles POST /api/v1/emergency
//
//	Request body:
//	{
//	  "patient_name": "Asha Rao", "patient_phone": "+91 98450 00000",
//	  "pickup_location": "12 MG Road",
//	  "pickup_coordinates": {"lat": 12.9716, "lng": 77.5946},
//	  "emergency_type": "cardiac"
//	}
func (h *BookingHandler) CreateEmergency(w http.ResponseWriter, r *http.Request) {
	var body service.EmergencyRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	b, err := h.svc.CreateEmergency(r.Context(), body)
	if err != nil {
		writeServiceError(w, "create emergency", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// CreateTransport handles POST /api/v1/transport
func (h *BookingHandler) CreateTransport(w http.ResponseWriter, r *http.Request) {
	var body service.TransportRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	b, err := h.svc.CreateTransport(r.Context(), body)
	if err != nil {
		writeServiceError(w, "create transport", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBooking handles GET /api/v1/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, "get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Dispatch handles POST /api/v1/bookings/{id}/dispatch
//
// Assigns an available vehicle. Without eta_minutes the ETA is estimated
// from the vehicle's last reported position.
func (h *BookingHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var body DispatchBody
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.svc.Dispatch(r.Context(), mux.Vars(r)["id"], body.VehicleID, body.ETAMinutes)
	if err != nil {
		writeServiceError(w, "dispatch", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateStatus handles POST /api/v1/bookings/{id}/status
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusBody
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.svc.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.Status, body.ETAMinutes)
	if err != nil {
		writeServiceError(w, "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
