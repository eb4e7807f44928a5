// Package repository provides database access for FastCare bookings and
// vehicles.
//
// Writes run in transactions with row-level locking (SELECT ... FOR UPDATE),
// always locking the booking before the vehicle. After a commit the
// repository writes the committed rows through to the snapshot cache and
// publishes one change per row on the feed.
package repository

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/pkg/cache"
)

// DefaultTxTimeout bounds a write transaction including lock waits.
const DefaultTxTimeout = 5 * time.Second

// announceTimeout bounds post-commit cache and feed calls. They run on a
// context detached from the request so a client hanging up does not lose
// the announcement.
const announceTimeout = 3 * time.Second

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrVehicleNotFound    = errors.New("vehicle not found")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrBookingClosed      = errors.New("booking is completed or cancelled")
	ErrVehicleUnavailable = errors.New("vehicle is not available")
	ErrDuplicate          = errors.New("record already exists")
)

// announcer caches committed rows and publishes their new state.
type announcer struct {
	cache *cache.SnapshotCache
	pub   feed.Publisher
}

func (a announcer) booking(ctx context.Context, typ feed.EventType, b *model.Booking) {
	a.announce(ctx, cache.BookingKey(b.ID), b.UpdatedAt, typ, feed.TableBookings, b.ID, b)
}

func (a announcer) vehicle(ctx context.Context, typ feed.EventType, v *model.Vehicle) {
	if v == nil {
		return
	}
	a.announce(ctx, cache.VehicleKey(v.ID), v.UpdatedAt, typ, feed.TableVehicles, v.ID, v)
}

func (a announcer) announce(ctx context.Context, key string, version time.Time, typ feed.EventType, table feed.Table, id string, record any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), announceTimeout)
	defer cancel()

	if _, err := a.cache.Set(ctx, key, version, record); err != nil {
		// Without the write-through the old row could be served until the
		// TTL runs out.
		log.Printf("[repo] %v", err)
		if err := a.cache.Invalidate(ctx, key); err != nil {
			log.Printf("[repo] %v", err)
		}
	}
	if a.pub == nil {
		return
	}
	c, err := feed.NewChange(typ, table, id, record)
	if err != nil {
		log.Printf("[repo] %v", err)
		return
	}
	if err := a.pub.Publish(ctx, c); err != nil {
		log.Printf("[repo] publish %s %s: %v", table, id, err)
	}
}
