package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/pkg/cache"
	"github.com/shiva/fastcare/pkg/db"
)

// These tests need a disposable PostgreSQL database:
//
//	FASTCARE_TEST_DATABASE_URL=postgres://... go test ./internal/repository/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("FASTCARE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FASTCARE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pool
}

type fixture struct {
	bookings *BookingRepository
	vehicles *VehicleRepository
	feed     *feed.Memory
}

func newFixture(t *testing.T) *fixture {
	pool := testPool(t)
	mem := feed.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	snapshots := cache.NewSnapshotCache(nil, 0)
	return &fixture{
		bookings: NewBookingRepository(pool, snapshots, mem),
		vehicles: NewVehicleRepository(pool, snapshots, mem),
		feed:     mem,
	}
}

func (f *fixture) vehicle(t *testing.T, pos *model.Location) *model.Vehicle {
	t.Helper()
	ctx := context.Background()
	v, err := f.vehicles.CreateVehicle(ctx, &model.Vehicle{
		ID:            uuid.NewString(),
		VehicleNumber: "KA-" + uuid.NewString()[:8],
		VehicleType:   "ALS",
	})
	if err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}
	if pos != nil {
		if v, err = f.vehicles.UpdateVehiclePosition(ctx, v.ID, *pos); err != nil {
			t.Fatalf("UpdateVehiclePosition: %v", err)
		}
	}
	return v
}

func (f *fixture) emergency(t *testing.T, pickup *model.Location) *model.Booking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), &model.Booking{
		ID:                uuid.NewString(),
		Kind:              model.KindEmergency,
		Status:            model.BookingPending,
		PatientName:       "Asha",
		PickupLocation:    "12 MG Road",
		PickupCoordinates: pickup,
		EmergencyType:     "cardiac",
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return b
}

func TestIntegration_DispatchAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pickup := model.Location{Lat: 12.9716, Lng: 77.5946}
	v := f.vehicle(t, &model.Location{Lat: 12.9352, Lng: 77.6245})
	b := f.emergency(t, &pickup)

	sub, _ := f.feed.Subscribe(ctx, feed.BookingTopic(b.ID))
	defer sub.Close()

	res, err := f.bookings.AssignVehicle(ctx, b.ID, v.ID, nil)
	if err != nil {
		t.Fatalf("AssignVehicle: %v", err)
	}
	if res.Booking.Status != model.BookingDispatched || res.Booking.VehicleID() != v.ID {
		t.Errorf("booking after dispatch = %+v", res.Booking)
	}
	if res.Booking.ETAMinutes == nil || *res.Booking.ETAMinutes < 1 {
		t.Errorf("expected estimated ETA, got %v", res.Booking.ETAMinutes)
	}
	if res.Vehicle.Status != model.VehicleOnDuty {
		t.Errorf("vehicle status = %s, want on_duty", res.Vehicle.Status)
	}

	select {
	case c := <-sub.Events():
		var got model.Booking
		if err := c.Decode(&got); err != nil || got.Status != model.BookingDispatched {
			t.Errorf("published change = %+v (%v)", got, err)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published for dispatch")
	}

	done, err := f.bookings.UpdateBookingStatus(ctx, b.ID, model.BookingCompleted, nil)
	if err != nil {
		t.Fatalf("UpdateBookingStatus: %v", err)
	}
	if !done.Booking.UpdatedAt.After(res.Booking.UpdatedAt) {
		t.Errorf("updated_at did not advance: %s then %s", res.Booking.UpdatedAt, done.Booking.UpdatedAt)
	}
	if done.Released == nil || done.Released.Status != model.VehicleAvailable {
		t.Errorf("vehicle not released: %+v", done.Released)
	}

	_, err = f.bookings.UpdateBookingStatus(ctx, b.ID, model.BookingCancelled, nil)
	if !errors.Is(err, ErrBookingClosed) {
		t.Errorf("cancel after complete err = %v, want ErrBookingClosed", err)
	}
}

// Concurrent writers to one row each get their own version, so trackers can
// order every change.
func TestIntegration_ConcurrentWritesGetDistinctVersions(t *testing.T) {
	f := newFixture(t)
	v := f.vehicle(t, nil)
	ctx := context.Background()

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions = map[time.Time]bool{}
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := f.vehicles.UpdateVehiclePosition(ctx, v.ID, model.Location{Lat: 12.9 + float64(i)/1000, Lng: 77.6})
			if err != nil {
				t.Errorf("UpdateVehiclePosition: %v", err)
				return
			}
			mu.Lock()
			versions[got.UpdatedAt.UTC()] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(versions) != writers {
		t.Errorf("%d writes produced %d distinct updated_at values", writers, len(versions))
	}
}

func TestIntegration_VehicleUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.vehicle(t, nil)
	b1 := f.emergency(t, nil)
	b2 := f.emergency(t, nil)

	if _, err := f.bookings.AssignVehicle(ctx, b1.ID, v.ID, nil); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := f.bookings.AssignVehicle(ctx, b2.ID, v.ID, nil); !errors.Is(err, ErrVehicleUnavailable) {
		t.Errorf("second dispatch err = %v, want ErrVehicleUnavailable", err)
	}
}

func TestIntegration_ReassignReleasesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1 := f.vehicle(t, nil)
	v2 := f.vehicle(t, nil)
	b := f.emergency(t, nil)
	eta := 7.0

	if _, err := f.bookings.AssignVehicle(ctx, b.ID, v1.ID, &eta); err != nil {
		t.Fatal(err)
	}
	res, err := f.bookings.AssignVehicle(ctx, b.ID, v2.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released == nil || res.Released.ID != v1.ID || res.Released.Status != model.VehicleAvailable {
		t.Errorf("released = %+v, want %s available", res.Released, v1.ID)
	}
	if res.Booking.ETAMinutes == nil || *res.Booking.ETAMinutes != 7 {
		t.Errorf("eta = %v, want 7 kept", res.Booking.ETAMinutes)
	}
}

func TestIntegration_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.emergency(t, nil)

	if _, err := f.bookings.UpdateBookingStatus(ctx, b.ID, model.BookingInProgress, nil); err != nil {
		t.Fatal(err)
	}
	_, err := f.bookings.UpdateBookingStatus(ctx, b.ID, model.BookingAccepted, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.bookings.FetchBooking(ctx, uuid.NewString()); !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("fetch missing err = %v, want ErrBookingNotFound", err)
	}
}

func TestIntegration_DuplicateVehicleNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vehicle(t, nil)

	_, err := f.vehicles.CreateVehicle(ctx, &model.Vehicle{ID: uuid.NewString(), VehicleNumber: v.VehicleNumber})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	if _, err := f.vehicles.SetVehicleStatus(ctx, v.ID, model.VehicleOnDuty); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("set on_duty err = %v, want ErrInvalidTransition", err)
	}
}
