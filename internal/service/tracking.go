package service

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/shiva/fastcare/config"
	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/internal/tracking"
)

// ─── Store adapter ─────────────────────────────────────────

type bookingReader interface {
	FetchBooking(ctx context.Context, id string) (*model.Booking, error)
}

type vehicleReader interface {
	FetchVehicle(ctx context.Context, id string) (*model.Vehicle, error)
}

type trackingStore struct {
	bookings bookingReader
	vehicles vehicleReader
}

// NewTrackingStore joins the booking and vehicle repositories into the read
// store a tracking session fetches from.
func NewTrackingStore(bookings bookingReader, vehicles vehicleReader) tracking.Store {
	return trackingStore{bookings: bookings, vehicles: vehicles}
}

func (s trackingStore) FetchBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookings.FetchBooking(ctx, id)
}

func (s trackingStore) FetchVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	return s.vehicles.FetchVehicle(ctx, id)
}

// ─── TrackingService ───────────────────────────────────────

// TrackingService opens tracking sessions and keeps a registry of the live
// ones so they can be closed together on shutdown.
type TrackingService struct {
	store tracking.Store
	feed  feed.Subscriber
	opts  tracking.Options

	mu       sync.Mutex
	sessions map[string]*tracking.Session
	closed   bool
}

// NewTrackingService creates a tracking service backed by store and sub.
func NewTrackingService(store tracking.Store, sub feed.Subscriber, cfg config.TrackingConfig) *TrackingService {
	return &TrackingService{
		store: store,
		feed:  sub,
		opts: tracking.Options{
			TickInterval:         cfg.TickInterval,
			InitialETA:           cfg.DefaultETAMinutes,
			ReconnectMaxInterval: cfg.ReconnectMaxInterval,
		},
		sessions: make(map[string]*tracking.Session),
	}
}

// Open starts a session for bookingID. Notifications go to notifier, which
// may be nil. The session is dropped from the registry once it ends.
func (s *TrackingService) Open(ctx context.Context, bookingID string, notifier tracking.Notifier) (*tracking.Session, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, invalid("booking id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, feed.ErrClosed
	}

	opts := s.opts
	opts.Notifier = notifier
	sess := tracking.Open(ctx, bookingID, s.store, s.feed, opts)
	s.sessions[sess.ID()] = sess

	go func() {
		<-sess.Done()
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
	}()
	return sess, nil
}

// Snapshot builds the view model of a booking once, through a short-lived
// session, for clients that cannot hold a websocket.
func (s *TrackingService) Snapshot(ctx context.Context, bookingID string) (tracking.ViewModel, error) {
	if _, err := s.store.FetchBooking(ctx, bookingID); err != nil {
		return tracking.ViewModel{}, classifyError(err)
	}

	sess, err := s.Open(ctx, bookingID, nil)
	if err != nil {
		return tracking.ViewModel{}, err
	}
	defer sess.Close()

	vm, err := sess.WaitLoaded(ctx)
	if err != nil {
		return vm, classifyError(err)
	}
	return vm, nil
}

// Active returns the number of live sessions.
func (s *TrackingService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every live session and refuses new ones.
func (s *TrackingService) Shutdown() {
	s.mu.Lock()
	s.closed = true
	open := make([]*tracking.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		_ = sess.Close()
	}
	log.Printf("[tracking] closed %d sessions", len(open))
}
