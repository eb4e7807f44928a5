package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shiva/fastcare/internal/metrics"
	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/internal/repository"
	"github.com/shiva/fastcare/pkg/geo"
)

var tracer = otel.Tracer("github.com/shiva/fastcare/internal/service")

// ─── Service Errors ────────────────────────────────────────

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrVehicleNotFound    = errors.New("vehicle not found")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrBookingClosed      = errors.New("booking is already completed or cancelled")
	ErrVehicleUnavailable = errors.New("vehicle is not available for dispatch")
	ErrDuplicateVehicle   = errors.New("vehicle number already registered")
	ErrTimeout            = errors.New("operation timed out (lock contention)")
	ErrInvalidInput       = errors.New("invalid input")
)

// ─── Stores ────────────────────────────────────────────────

// BookingStore is the booking half of the repository layer.
type BookingStore interface {
	FetchBooking(ctx context.Context, id string) (*model.Booking, error)
	ListOpenForVehicle(ctx context.Context, vehicleID string) ([]model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus, eta *float64) (*repository.StatusResult, error)
	AssignVehicle(ctx context.Context, bookingID, vehicleID string, eta *float64) (*repository.AssignResult, error)
}

// VehicleStore is the vehicle half of the repository layer.
type VehicleStore interface {
	FetchVehicle(ctx context.Context, id string) (*model.Vehicle, error)
	CreateVehicle(ctx context.Context, v *model.Vehicle) (*model.Vehicle, error)
	UpdateVehiclePosition(ctx context.Context, id string, loc model.Location) (*model.Vehicle, error)
	SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) (*model.Vehicle, error)
}

// ─── Requests ──────────────────────────────────────────────

// EmergencyRequest is the body of POST /api/v1/emergency.
type EmergencyRequest struct {
	PatientName       string          `json:"patient_name"`
	PatientPhone      string          `json:"patient_phone"`
	PickupLocation    string          `json:"pickup_location"`
	PickupCoordinates *model.Location `json:"pickup_coordinates,omitempty"`
	EmergencyType     string          `json:"emergency_type"`
	Notes             string          `json:"notes,omitempty"`
}

// TransportRequest is the body of POST /api/v1/transport.
type TransportRequest struct {
	PatientName       string          `json:"patient_name"`
	PatientPhone      string          `json:"patient_phone"`
	PickupLocation    string          `json:"pickup_location"`
	PickupCoordinates *model.Location `json:"pickup_coordinates,omitempty"`
	Destination       string          `json:"destination"`
	TransportType     string          `json:"transport_type"`
	ScheduledAt       *time.Time      `json:"scheduled_at"`
	Notes             string          `json:"notes,omitempty"`
}

// VehicleRequest is the body of POST /api/v1/vehicles.
type VehicleRequest struct {
	VehicleNumber      string  `json:"vehicle_number"`
	VehicleType        string  `json:"vehicle_type"`
	AssignedOperatorID *string `json:"assigned_operator_id,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validPatient(name, phone, pickup string, coords *model.Location) error {
	switch {
	case strings.TrimSpace(name) == "":
		return invalid("patient_name is required")
	case strings.TrimSpace(phone) == "":
		return invalid("patient_phone is required")
	case strings.TrimSpace(pickup) == "":
		return invalid("pickup_location is required")
	case coords != nil && !geo.ValidCoordinates(*coords):
		return invalid("pickup_coordinates out of range")
	}
	return nil
}

// ─── DispatchService ───────────────────────────────────────

// DispatchService is the write side of FastCare: booking intake, dispatch,
// status changes and the vehicle registry. Every write goes through the
// repositories, which announce the new rows on the change feed.
type DispatchService struct {
	bookings   BookingStore
	vehicles   VehicleStore
	defaultETA float64
	txTimeout  time.Duration
}

// NewDispatchService creates a dispatch service. defaultETA seeds the ETA
// of new emergency bookings; zero leaves it unset.
func NewDispatchService(bookings BookingStore, vehicles VehicleStore, defaultETA float64) *DispatchService {
	return &DispatchService{
		bookings:   bookings,
		vehicles:   vehicles,
		defaultETA: defaultETA,
		txTimeout:  repository.DefaultTxTimeout,
	}
}

// CreateEmergency books an emergency pickup. It starts pending with the
// default ETA so the tracking view can count down before dispatch.
func (s *DispatchService) CreateEmergency(ctx context.Context, req EmergencyRequest) (*model.Booking, error) {
	if err := validPatient(req.PatientName, req.PatientPhone, req.PickupLocation, req.PickupCoordinates); err != nil {
		return nil, err
	}

	b := &model.Booking{
		ID:                uuid.NewString(),
		Kind:              model.KindEmergency,
		Status:            model.InitialStatusFor(model.KindEmergency),
		PatientName:       strings.TrimSpace(req.PatientName),
		PatientPhone:      strings.TrimSpace(req.PatientPhone),
		PickupLocation:    strings.TrimSpace(req.PickupLocation),
		PickupCoordinates: req.PickupCoordinates,
		EmergencyType:     req.EmergencyType,
		Notes:             req.Notes,
	}
	if s.defaultETA > 0 {
		eta := s.defaultETA
		b.ETAMinutes = &eta
	}

	created, err := s.bookings.CreateBooking(ctx, b)
	if err != nil {
		return nil, classifyError(err)
	}
	log.Printf("[dispatch] Emergency booking %s created (%s)", created.ID, created.EmergencyType)
	return created, nil
}

// CreateTransport books a scheduled patient transport.
func (s *DispatchService) CreateTransport(ctx context.Context, req TransportRequest) (*model.Booking, error) {
	if err := validPatient(req.PatientName, req.PatientPhone, req.PickupLocation, req.PickupCoordinates); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, invalid("destination is required")
	}
	if req.ScheduledAt == nil || req.ScheduledAt.IsZero() {
		return nil, invalid("scheduled_at is required")
	}

	at := req.ScheduledAt.UTC()
	b := &model.Booking{
		ID:                uuid.NewString(),
		Kind:              model.KindTransport,
		Status:            model.InitialStatusFor(model.KindTransport),
		PatientName:       strings.TrimSpace(req.PatientName),
		PatientPhone:      strings.TrimSpace(req.PatientPhone),
		PickupLocation:    strings.TrimSpace(req.PickupLocation),
		PickupCoordinates: req.PickupCoordinates,
		Destination:       strings.TrimSpace(req.Destination),
		TransportType:     req.TransportType,
		ScheduledAt:       &at,
		Notes:             req.Notes,
	}

	created, err := s.bookings.CreateBooking(ctx, b)
	if err != nil {
		return nil, classifyError(err)
	}
	log.Printf("[dispatch] Transport booking %s scheduled for %s", created.ID, at.Format(time.RFC3339))
	return created, nil
}

// GetBooking returns the current booking row.
func (s *DispatchService) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.bookings.FetchBooking(ctx, id)
	if err != nil {
		return nil, classifyError(err)
	}
	return b, nil
}

// Dispatch assigns a vehicle to a booking.
//
// Flow:
//  1. Lock the booking row, then the vehicle row (fixed order, no deadlock).
//  2. Require the vehicle to be available (or already assigned here).
//  3. Move the booking to its accepted status and the vehicle to on_duty.
//  4. Release the previously assigned vehicle, if any.
//
// When eta is nil the repository estimates it from the vehicle position.
func (s *DispatchService) Dispatch(ctx context.Context, bookingID, vehicleID string, eta *float64) (*repository.AssignResult, error) {
	if strings.TrimSpace(vehicleID) == "" {
		return nil, invalid("vehicle_id is required")
	}
	if eta != nil && *eta < 0 {
		return nil, invalid("eta_minutes must not be negative")
	}

	ctx, span := tracer.Start(ctx, "DispatchService.Dispatch", trace.WithAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("vehicle.id", vehicleID),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.bookings.AssignVehicle(ctx, bookingID, vehicleID, eta)
	if err != nil {
		err = classifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(res.Booking.Status)).Inc()
	released := ""
	if res.Released != nil {
		released = fmt.Sprintf(", released %s", res.Released.ID)
	}
	log.Printf("[dispatch] ✓ Booking %s → %s with vehicle %s (%.1f min)%s in %v",
		bookingID, res.Booking.Status, vehicleID, etaValue(res.Booking), released, time.Since(start))
	return res, nil
}

// UpdateStatus moves a booking along the status graph. Terminal statuses
// release the assigned vehicle.
func (s *DispatchService) UpdateStatus(ctx context.Context, bookingID string, status model.BookingStatus, eta *float64) (*repository.StatusResult, error) {
	if !status.Known() {
		return nil, invalid("unknown status %q", status)
	}
	if eta != nil && *eta < 0 {
		return nil, invalid("eta_minutes must not be negative")
	}

	ctx, span := tracer.Start(ctx, "DispatchService.UpdateStatus", trace.WithAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("booking.status", string(status)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	res, err := s.bookings.UpdateBookingStatus(ctx, bookingID, status, eta)
	if err != nil {
		err = classifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(res.Booking.Status)).Inc()
	log.Printf("[dispatch] Booking %s → %s", bookingID, res.Booking.Status)
	if res.Released != nil {
		log.Printf("[dispatch] Vehicle %s released", res.Released.ID)
	}
	return res, nil
}

// ─── Vehicles ──────────────────────────────────────────────

// CreateVehicle registers an available vehicle.
func (s *DispatchService) CreateVehicle(ctx context.Context, req VehicleRequest) (*model.Vehicle, error) {
	number := strings.TrimSpace(req.VehicleNumber)
	if number == "" {
		return nil, invalid("vehicle_number is required")
	}

	v, err := s.vehicles.CreateVehicle(ctx, &model.Vehicle{
		ID:                 uuid.NewString(),
		VehicleNumber:      number,
		VehicleType:        req.VehicleType,
		Status:             model.VehicleAvailable,
		AssignedOperatorID: req.AssignedOperatorID,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	log.Printf("[dispatch] Vehicle %s registered as %s", v.VehicleNumber, v.ID)
	return v, nil
}

func (s *DispatchService) GetVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	v, err := s.vehicles.FetchVehicle(ctx, id)
	if err != nil {
		return nil, classifyError(err)
	}
	return v, nil
}

// ReportPosition records a position report from the vehicle's operator.
func (s *DispatchService) ReportPosition(ctx context.Context, vehicleID string, loc model.Location) (*model.Vehicle, error) {
	if !geo.ValidCoordinates(loc) {
		return nil, invalid("coordinates out of range: (%.5f, %.5f)", loc.Lat, loc.Lng)
	}
	v, err := s.vehicles.UpdateVehiclePosition(ctx, vehicleID, loc)
	if err != nil {
		return nil, classifyError(err)
	}
	return v, nil
}

// SetVehicleStatus takes a vehicle in or out of service.
func (s *DispatchService) SetVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) (*model.Vehicle, error) {
	if !status.Valid() {
		return nil, invalid("unknown vehicle status %q", status)
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	v, err := s.vehicles.SetVehicleStatus(ctx, vehicleID, status)
	if err != nil {
		return nil, classifyError(err)
	}
	log.Printf("[dispatch] Vehicle %s is now %s", vehicleID, v.Status)
	return v, nil
}

// ListVehicleBookings returns the open bookings a vehicle is serving.
func (s *DispatchService) ListVehicleBookings(ctx context.Context, vehicleID string) ([]model.Booking, error) {
	if _, err := s.vehicles.FetchVehicle(ctx, vehicleID); err != nil {
		return nil, classifyError(err)
	}
	bookings, err := s.bookings.ListOpenForVehicle(ctx, vehicleID)
	if err != nil {
		return nil, classifyError(err)
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	return bookings, nil
}

// ─── Helpers ───────────────────────────────────────────────

// classifyError maps repository errors to service-level sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, repository.ErrBookingNotFound):
		return ErrBookingNotFound
	case errors.Is(err, repository.ErrVehicleNotFound):
		return ErrVehicleNotFound
	case errors.Is(err, repository.ErrBookingClosed):
		return ErrBookingClosed
	case errors.Is(err, repository.ErrInvalidTransition):
		return ErrInvalidTransition
	case errors.Is(err, repository.ErrVehicleUnavailable):
		return ErrVehicleUnavailable
	case errors.Is(err, repository.ErrDuplicate):
		return ErrDuplicateVehicle
	}
	return err
}

func etaValue(b *model.Booking) float64 {
	if b == nil || b.ETAMinutes == nil {
		return 0
	}
	return *b.ETAMinutes
}
