// Package model contains domain models for the FastCare transport system.
// These structs map to the PostgreSQL schema in pkg/db/schema.sql.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

type BookingKind string

const (
	KindEmergency BookingKind = "emergency"
	KindTransport BookingKind = "transport"
)

// Valid reports whether k is a known booking kind.
func (k BookingKind) Valid() bool {
	return k == KindEmergency || k == KindTransport
}

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingScheduled  BookingStatus = "scheduled" // transport alias of pending
	BookingAccepted   BookingStatus = "accepted"
	BookingDispatched BookingStatus = "dispatched" // emergency alias of accepted
	BookingConfirmed  BookingStatus = "confirmed"  // transport alias of accepted
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

type VehicleStatus string

const (
	VehicleAvailable    VehicleStatus = "available"
	VehicleOnDuty       VehicleStatus = "on_duty"
	VehicleOutOfService VehicleStatus = "out_of_service"
)

// Valid reports whether s is a known vehicle status.
func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleAvailable, VehicleOnDuty, VehicleOutOfService:
		return true
	}
	return false
}

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ─── Domain Models ──────────────────────────────────────────

// Booking maps to the `bookings` table. Emergency and transport requests
// share the table; kind-specific columns are left empty for the other kind.
type Booking struct {
	ID                string        `json:"id"`
	Kind              BookingKind   `json:"kind"`
	Status            BookingStatus `json:"status,omitempty"`
	ETAMinutes        *float64      `json:"eta_minutes,omitempty"`
	AssignedVehicleID *string       `json:"assigned_vehicle_id,omitempty"`
	PatientName       string        `json:"patient_name"`
	PatientPhone      string        `json:"patient_phone"`
	PickupLocation    string        `json:"pickup_location"`
	PickupCoordinates *Location     `json:"pickup_coordinates,omitempty"`
	Notes             string        `json:"notes,omitempty"`

	// Emergency only.
	EmergencyType string `json:"emergency_type,omitempty"`

	// Transport only.
	Destination   string     `json:"destination,omitempty"`
	TransportType string     `json:"transport_type,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VehicleID returns the assigned vehicle id or "" when unassigned.
func (b *Booking) VehicleID() string {
	if b == nil || b.AssignedVehicleID == nil {
		return ""
	}
	return *b.AssignedVehicleID
}

// Vehicle maps to the `vehicles` table.
type Vehicle struct {
	ID                 string        `json:"id"`
	VehicleNumber      string        `json:"vehicle_number"`
	VehicleType        string        `json:"vehicle_type,omitempty"`
	Status             VehicleStatus `json:"status"`
	CurrentPosition    *Location     `json:"current_position,omitempty"`
	LastPositionUpdate *time.Time    `json:"last_position_update,omitempty"`
	AssignedOperatorID *string       `json:"assigned_operator_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}
