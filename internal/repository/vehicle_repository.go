package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/pkg/cache"
)

// VehicleRepository reads and writes vehicles.
type VehicleRepository struct {
	pool  *pgxpool.Pool
	cache *cache.SnapshotCache
	announcer
}

// NewVehicleRepository creates a vehicle repository. pub may be nil.
func NewVehicleRepository(pool *pgxpool.Pool, snapshots *cache.SnapshotCache, pub feed.Publisher) *VehicleRepository {
	return &VehicleRepository{
		pool:      pool,
		cache:     snapshots,
		announcer: announcer{cache: snapshots, pub: pub},
	}
}

const vehicleColumns = `
	id, vehicle_number, vehicle_type, status,
	current_lat, current_lng, last_position_update, assigned_operator_id,
	created_at, updated_at`

func scanVehicle(row pgx.Row) (*model.Vehicle, error) {
	var (
		v        model.Vehicle
		lat, lng *float64
	)
	err := row.Scan(
		&v.ID, &v.VehicleNumber, &v.VehicleType, &v.Status,
		&lat, &lng, &v.LastPositionUpdate, &v.AssignedOperatorID,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		v.CurrentPosition = &model.Location{Lat: *lat, Lng: *lng}
	}
	return &v, nil
}

// FetchVehicle returns a vehicle, serving it from the snapshot cache when
// possible.
func (r *VehicleRepository) FetchVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	var cached model.Vehicle
	if hit, err := r.cache.Get(ctx, cache.VehicleKey(id), &cached); err == nil && hit {
		return &cached, nil
	}

	v, err := scanVehicle(r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrVehicleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vehicle: fetch %s: %w", id, err)
	}

	_, _ = r.cache.Set(ctx, cache.VehicleKey(id), v.UpdatedAt, v)
	return v, nil
}

// CreateVehicle registers a vehicle. Vehicle numbers are unique.
func (r *VehicleRepository) CreateVehicle(ctx context.Context, v *model.Vehicle) (*model.Vehicle, error) {
	status := v.Status
	if status == "" {
		status = model.VehicleAvailable
	}

	created, err := scanVehicle(r.pool.QueryRow(ctx, `
		INSERT INTO vehicles (id, vehicle_number, vehicle_type, status, assigned_operator_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+vehicleColumns,
		v.ID, v.VehicleNumber, v.VehicleType, status, v.AssignedOperatorID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("vehicle number %q: %w", v.VehicleNumber, ErrDuplicate)
		}
		return nil, fmt.Errorf("vehicle: insert: %w", err)
	}

	r.announcer.vehicle(ctx, feed.EventInsert, created)
	return created, nil
}

// UpdateVehiclePosition records a position report from the vehicle's
// operator.
func (r *VehicleRepository) UpdateVehiclePosition(ctx context.Context, id string, loc model.Location) (*model.Vehicle, error) {
	v, err := scanVehicle(r.pool.QueryRow(ctx, `
		UPDATE vehicles
		SET current_lat          = $2,
		    current_lng          = $3,
		    last_position_update = now(),
		    updated_at           = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $1
		RETURNING `+vehicleColumns,
		id, loc.Lat, loc.Lng,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrVehicleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vehicle: update position %s: %w", id, err)
	}

	r.announcer.vehicle(ctx, feed.EventUpdate, v)
	return v, nil
}

// SetVehicleStatus toggles a vehicle between available and out_of_service.
// On-duty status is owned by dispatch and cannot be set or cleared here.
func (r *VehicleRepository) SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) (*model.Vehicle, error) {
	if status != model.VehicleAvailable && status != model.VehicleOutOfService {
		return nil, fmt.Errorf("vehicle %s: cannot set %s: %w", id, status, ErrInvalidTransition)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("vehicle: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current model.VehicleStatus
	err = tx.QueryRow(ctx, `SELECT status FROM vehicles WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrVehicleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vehicle: lock %s: %w", id, err)
	}
	if current == model.VehicleOnDuty {
		return nil, fmt.Errorf("vehicle %s is on duty: %w", id, ErrVehicleUnavailable)
	}

	v, err := scanVehicle(tx.QueryRow(ctx, `
		UPDATE vehicles
		SET status     = $2,
		    updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $1
		RETURNING `+vehicleColumns, id, status))
	if err != nil {
		return nil, fmt.Errorf("vehicle: update status %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("vehicle: commit: %w", err)
	}

	r.announcer.vehicle(ctx, feed.EventUpdate, v)
	return v, nil
}
