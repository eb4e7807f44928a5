package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/pkg/cache"
	"github.com/shiva/fastcare/pkg/geo"
)

// BookingRepository reads and writes bookings.
type BookingRepository struct {
	pool  *pgxpool.Pool
	cache *cache.SnapshotCache
	announcer
}

// NewBookingRepository creates a booking repository. pub may be nil when no
// change feed is wired.
func NewBookingRepository(pool *pgxpool.Pool, snapshots *cache.SnapshotCache, pub feed.Publisher) *BookingRepository {
	return &BookingRepository{
		pool:      pool,
		cache:     snapshots,
		announcer: announcer{cache: snapshots, pub: pub},
	}
}

const bookingColumns = `
	id, kind, status, eta_minutes, assigned_vehicle_id,
	patient_name, patient_phone, pickup_location, pickup_lat, pickup_lng, notes,
	emergency_type, destination, transport_type, scheduled_at,
	created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b        model.Booking
		lat, lng *float64
	)
	err := row.Scan(
		&b.ID, &b.Kind, &b.Status, &b.ETAMinutes, &b.AssignedVehicleID,
		&b.PatientName, &b.PatientPhone, &b.PickupLocation, &lat, &lng, &b.Notes,
		&b.EmergencyType, &b.Destination, &b.TransportType, &b.ScheduledAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		b.PickupCoordinates = &model.Location{Lat: *lat, Lng: *lng}
	}
	return &b, nil
}

// ─── Reads ──────────────────────────────────────────────────

// FetchBooking returns a booking, serving it from the snapshot cache when
// possible.
func (r *BookingRepository) FetchBooking(ctx context.Context, id string) (*model.Booking, error) {
	var cached model.Booking
	if hit, err := r.cache.Get(ctx, cache.BookingKey(id), &cached); err == nil && hit {
		return &cached, nil
	}

	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("booking: fetch %s: %w", id, err)
	}

	_, _ = r.cache.Set(ctx, cache.BookingKey(id), b.UpdatedAt, b)
	return b, nil
}

// ListOpenForVehicle returns the non-terminal bookings assigned to a
// vehicle, oldest first.
func (r *BookingRepository) ListOpenForVehicle(ctx context.Context, vehicleID string) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE assigned_vehicle_id = $1
		  AND status NOT IN ('completed', 'cancelled')
		ORDER BY created_at
	`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("booking: list for vehicle %s: %w", vehicleID, err)
	}
	defer rows.Close()

	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("booking: scan: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ─── Create ─────────────────────────────────────────────────

// CreateBooking inserts b. ID, Kind and Status must already be set.
func (r *BookingRepository) CreateBooking(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	var lat, lng *float64
	if b.PickupCoordinates != nil {
		lat, lng = &b.PickupCoordinates.Lat, &b.PickupCoordinates.Lng
	}

	created, err := scanBooking(r.pool.QueryRow(ctx, `
		INSERT INTO bookings (
			id, kind, status, eta_minutes, patient_name, patient_phone,
			pickup_location, pickup_lat, pickup_lng, notes,
			emergency_type, destination, transport_type, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+bookingColumns,
		b.ID, b.Kind, b.Status, b.ETAMinutes, b.PatientName, b.PatientPhone,
		b.PickupLocation, lat, lng, b.Notes,
		b.EmergencyType, b.Destination, b.TransportType, b.ScheduledAt,
	))
	if err != nil {
		return nil, fmt.Errorf("booking: insert: %w", err)
	}

	r.announcer.booking(ctx, feed.EventInsert, created)
	return created, nil
}

// ─── Status changes ─────────────────────────────────────────

// StatusResult is the outcome of a status change. Released is the vehicle
// freed by a terminal status, if any.
type StatusResult struct {
	Booking  *model.Booking `json:"booking"`
	Released *model.Vehicle `json:"released_vehicle,omitempty"`
}

// UpdateBookingStatus moves a booking to status, validating the move
// against the lifecycle graph under a row lock. A non-nil eta replaces the
// stored estimate; completing a booking zeroes it unless one is given.
// A terminal status releases the assigned vehicle when no other open
// booking holds it.
func (r *BookingRepository) UpdateBookingStatus(
	ctx context.Context,
	id string,
	status model.BookingStatus,
	eta *float64,
) (*StatusResult, error) {

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("booking: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: Lock the booking row ────────────────────
	var current model.BookingStatus
	err = tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("booking: lock %s: %w", id, err)
	}

	// ── Step 2: Validate the transition ─────────────────
	if current.Terminal() {
		return nil, fmt.Errorf("booking %s is %s: %w", id, current, ErrBookingClosed)
	}
	if !model.CanTransition(current, status) {
		return nil, fmt.Errorf("booking %s: %s → %s: %w", id, current, status, ErrInvalidTransition)
	}
	if eta == nil && model.StageOf(status) == model.StageCompleted {
		zero := 0.0
		eta = &zero
	}

	// ── Step 3: Write ───────────────────────────────────
	updated, err := scanBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET status      = $2,
		    eta_minutes = COALESCE($3, eta_minutes),
		    updated_at  = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $1
		RETURNING `+bookingColumns,
		id, status, eta))
	if err != nil {
		return nil, fmt.Errorf("booking: update %s: %w", id, err)
	}

	var released *model.Vehicle
	if status.Terminal() && updated.AssignedVehicleID != nil {
		released, err = releaseVehicle(ctx, tx, *updated.AssignedVehicleID, id)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("booking: commit: %w", err)
	}

	r.announcer.booking(ctx, feed.EventUpdate, updated)
	r.announcer.vehicle(ctx, feed.EventUpdate, released)
	return &StatusResult{Booking: updated, Released: released}, nil
}

// ─── Dispatch ───────────────────────────────────────────────

// AssignResult is the outcome of a dispatch.
type AssignResult struct {
	Booking  *model.Booking `json:"booking"`
	Vehicle  *model.Vehicle `json:"vehicle"`
	Released *model.Vehicle `json:"released_vehicle,omitempty"`
}

// AssignVehicle dispatches a vehicle to a booking in one transaction.
//
// The vehicle must be available (or already assigned to this booking). A
// pending or scheduled booking moves to its accepted status for its kind;
// a booking further along keeps its status. The vehicle goes on duty and a
// previously assigned vehicle is released. Without an explicit eta the
// estimate is derived from the vehicle position and pickup coordinates
// when both are known.
func (r *BookingRepository) AssignVehicle(
	ctx context.Context,
	bookingID, vehicleID string,
	eta *float64,
) (*AssignResult, error) {

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("dispatch: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: Lock the booking row ────────────────────
	var (
		kind     model.BookingKind
		status   model.BookingStatus
		previous *string
		pickLat  *float64
		pickLng  *float64
	)
	err = tx.QueryRow(ctx, `
		SELECT kind, status, assigned_vehicle_id, pickup_lat, pickup_lng
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, bookingID).Scan(&kind, &status, &previous, &pickLat, &pickLng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", bookingID, ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: lock booking %s: %w", bookingID, err)
	}
	if status.Terminal() {
		return nil, fmt.Errorf("booking %s is %s: %w", bookingID, status, ErrBookingClosed)
	}

	// ── Step 2: Lock the vehicle row ────────────────────
	var (
		vStatus    model.VehicleStatus
		vLat, vLng *float64
	)
	err = tx.QueryRow(ctx, `
		SELECT status, current_lat, current_lng
		FROM vehicles
		WHERE id = $1
		FOR UPDATE
	`, vehicleID).Scan(&vStatus, &vLat, &vLng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", vehicleID, ErrVehicleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: lock vehicle %s: %w", vehicleID, err)
	}
	sameVehicle := previous != nil && *previous == vehicleID
	if vStatus != model.VehicleAvailable && !sameVehicle {
		return nil, fmt.Errorf("vehicle %s is %s: %w", vehicleID, vStatus, ErrVehicleUnavailable)
	}

	// ── Step 3: Decide status and ETA ───────────────────
	next := status
	if model.StageOf(status) < model.StageAccepted {
		next = model.AcceptedStatusFor(kind)
	}
	if eta == nil && pickLat != nil && pickLng != nil && vLat != nil && vLng != nil {
		est := geo.EstimateTimeMinutes(
			model.Location{Lat: *vLat, Lng: *vLng},
			model.Location{Lat: *pickLat, Lng: *pickLng},
		)
		eta = &est
	}

	// ── Step 4: Write both rows ─────────────────────────
	booking, err := scanBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET status              = $2,
		    assigned_vehicle_id = $3,
		    eta_minutes         = COALESCE($4, eta_minutes),
		    updated_at          = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $1
		RETURNING `+bookingColumns,
		bookingID, next, vehicleID, eta))
	if err != nil {
		return nil, fmt.Errorf("dispatch: update booking %s: %w", bookingID, err)
	}

	vehicle, err := scanVehicle(tx.QueryRow(ctx, `
		UPDATE vehicles
		SET status     = 'on_duty',
		    updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $1
		RETURNING `+vehicleColumns, vehicleID))
	if err != nil {
		return nil, fmt.Errorf("dispatch: update vehicle %s: %w", vehicleID, err)
	}

	var released *model.Vehicle
	if previous != nil && !sameVehicle {
		released, err = releaseVehicle(ctx, tx, *previous, bookingID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispatch: commit: %w", err)
	}

	r.announcer.booking(ctx, feed.EventUpdate, booking)
	r.announcer.vehicle(ctx, feed.EventUpdate, vehicle)
	r.announcer.vehicle(ctx, feed.EventUpdate, released)
	return &AssignResult{Booking: booking, Vehicle: vehicle, Released: released}, nil
}

// releaseVehicle puts an on-duty vehicle back to available unless another
// open booking (other than exceptBooking) still holds it. It returns the
// updated row, or nil when nothing changed.
func releaseVehicle(ctx context.Context, tx pgx.Tx, vehicleID, exceptBooking string) (*model.Vehicle, error) {
	v, err := scanVehicle(tx.QueryRow(ctx, `
		UPDATE vehicles
		SET status     = 'available',
		    updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $1
		  AND status = 'on_duty'
		  AND NOT EXISTS (
		      SELECT 1 FROM bookings
		      WHERE assigned_vehicle_id = $1
		        AND id <> $2
		        AND status NOT IN ('completed', 'cancelled')
		  )
		RETURNING `+vehicleColumns, vehicleID, exceptBooking))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("release vehicle %s: %w", vehicleID, err)
	}
	return v, nil
}
