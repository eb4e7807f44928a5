package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/internal/service"
)

// VehicleStatusBody is the JSON body for POST /api/v1/vehicles/{id}/status.
type VehicleStatusBody struct {
	Status model.VehicleStatus `json:"status"`
}

// VehicleHandler handles the vehicle registry and position reports.
type VehicleHandler struct {
	svc Dispatcher
}

// NewVehicleHandler creates a new vehicle handler.
func NewVehicleHandler(svc Dispatcher) *VehicleHandler {
	return &VehicleHandler{svc: svc}
}

// Register mounts the vehicle routes on an /api/v1 subrouter.
func (h *VehicleHandler) Register(api *mux.Router) {
	api.HandleFunc("/vehicles", h.CreateVehicle).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}", h.GetVehicle).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/position", h.ReportPosition).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/status", h.SetStatus).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/bookings", h.ListBookings).Methods(http.MethodGet)
}

// CreateVehicle handles POST /api/v1/vehicles
func (h *VehicleHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var body service.VehicleRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	v, err := h.svc.CreateVehicle(r.Context(), body)
	if err != nil {
		writeServiceError(w, "create vehicle", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetVehicle handles GET /api/v1/vehicles/{id}
func (h *VehicleHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetVehicle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, "get vehicle", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ReportPosition handles POST /api/v1/vehicles/{id}/position
//
//	Request body: {"lat": 12.9352, "lng": 77.6245}
func (h *VehicleHandler) ReportPosition(w http.ResponseWriter, r *http.Request) {
	var body model.Location
	if !decodeJSON(w, r, &body) {
		return
	}
	v, err := h.svc.ReportPosition(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		writeServiceError(w, "report position", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// SetStatus handles POST /api/v1/vehicles/{id}/status
//
// Only available and out_of_service can be set; on_duty belongs to dispatch.
func (h *VehicleHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var body VehicleStatusBody
	if !decodeJSON(w, r, &body) {
		return
	}
	v, err := h.svc.SetVehicleStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		writeServiceError(w, "set vehicle status", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ListBookings handles GET /api/v1/vehicles/{id}/bookings, the open
// bookings shown on the driver dashboard.
func (h *VehicleHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListVehicleBookings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, "list vehicle bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
