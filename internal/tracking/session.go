package tracking

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/metrics"
	"github.com/shiva/fastcare/internal/model"
)

// Store is the read side of the persistence service.
type Store interface {
	FetchBooking(ctx context.Context, id string) (*model.Booking, error)
	FetchVehicle(ctx context.Context, id string) (*model.Vehicle, error)
}

// Notifier receives status-change messages. Calls are made from the
// session goroutine and must not block for long.
type Notifier interface {
	Notify(n Notify)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notify)

func (f NotifierFunc) Notify(n Notify) { f(n) }

const (
	DefaultInitialETA           = 10.0
	DefaultReconnectMaxInterval = 30 * time.Second
	fetchTimeout                = 10 * time.Second
)

// Options tune a session. Zero values take the defaults.
type Options struct {
	TickInterval         time.Duration
	InitialETA           float64
	ReconnectMaxInterval time.Duration
	Notifier             Notifier
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = tickDefault
	}
	if o.InitialETA <= 0 {
		o.InitialETA = DefaultInitialETA
	}
	if o.ReconnectMaxInterval <= 0 {
		o.ReconnectMaxInterval = DefaultReconnectMaxInterval
	}
	if o.Notifier == nil {
		o.Notifier = NotifierFunc(func(Notify) {})
	}
	return o
}

// Session tracks one booking. All folding happens on the session's own
// goroutine; readers use Snapshot or Updates.
type Session struct {
	id        string
	bookingID string
	store     Store
	feed      feed.Subscriber
	opts      Options

	mu sync.RWMutex
	vm ViewModel

	inject  chan Event
	refresh chan struct{}
	updates chan ViewModel
	loaded  chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// Open starts tracking bookingID. The booking is fetched in the background;
// use WaitLoaded or Updates to observe the result. The session ends when
// Close is called or ctx is cancelled.
func Open(ctx context.Context, bookingID string, store Store, sub feed.Subscriber, opts Options) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:        uuid.NewString(),
		bookingID: bookingID,
		store:     store,
		feed:      sub,
		opts:      opts,
		vm:        NewViewModel(bookingID, opts.InitialETA),
		inject:    make(chan Event),
		refresh:   make(chan struct{}, 1),
		updates:   make(chan ViewModel, 1),
		loaded:    make(chan struct{}),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	metrics.ActiveSessions.Inc()
	go s.run(ctx)
	return s
}

func (s *Session) ID() string        { return s.id }
func (s *Session) BookingID() string { return s.bookingID }

// Snapshot returns the current view model.
func (s *Session) Snapshot() ViewModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vm
}

// Updates delivers the latest view model after each fold. Only the newest
// value is kept; a slow reader skips intermediate states.
func (s *Session) Updates() <-chan ViewModel { return s.updates }

// Done is closed once the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// WaitLoaded blocks until the first fetch attempt has finished and returns
// the view model at that point.
func (s *Session) WaitLoaded(ctx context.Context) (ViewModel, error) {
	select {
	case <-s.loaded:
		return s.Snapshot(), nil
	case <-s.done:
		return s.Snapshot(), errors.New("tracking: session closed")
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Inject folds ev as if it had arrived from the feed. It returns false,
// without touching the view model, once the session is closed.
func (s *Session) Inject(ev Event) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.inject <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Refresh asks the session to refetch the booking.
func (s *Session) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Close ends the session. When it returns, both subscriptions are released,
// the countdown is stopped and no further fold will happen.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	<-s.done
	return nil
}

// ─── Session loop ───────────────────────────────────────────

type loop struct {
	s          *Session
	ctx        context.Context
	bookingSub feed.Subscription
	vehicleSub feed.Subscription
	countdown  *Countdown
	ticks      <-chan TimerTick
	backoff    *backoff.ExponentialBackOff
	retry      <-chan time.Time
	retryTimer *time.Timer
	loadedOnce sync.Once
}

func (s *Session) run(ctx context.Context) {
	l := &loop{
		s:         s,
		ctx:       ctx,
		countdown: StartCountdown(s.opts.TickInterval),
		backoff:   feed.NewBackOff(s.opts.ReconnectMaxInterval),
	}
	l.ticks = l.countdown.C()

	defer func() {
		l.closeBooking()
		l.closeVehicle()
		l.countdown.Stop()
		if l.retryTimer != nil {
			l.retryTimer.Stop()
		}
		metrics.ActiveSessions.Dec()
		close(s.done)
		log.Printf("[tracking] session %s for booking %s closed", s.id, s.bookingID)
	}()

	log.Printf("[tracking] session %s tracking booking %s", s.id, s.bookingID)
	l.connect()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-s.inject:
			l.apply(ev)

		case <-s.refresh:
			l.fetchBooking()

		case t := <-l.ticks:
			l.apply(t)

		case c, ok := <-l.events(l.bookingSub):
			if !ok {
				l.lost(&l.bookingSub)
				continue
			}
			metrics.FeedEventsTotal.WithLabelValues(string(c.Table)).Inc()
			if !c.HasRecord() {
				l.fetchBooking()
				continue
			}
			var b model.Booking
			if err := c.Decode(&b); err != nil {
				log.Printf("[tracking] session %s: %v", s.id, err)
				continue
			}
			l.apply(BookingUpdate{Booking: b})

		case c, ok := <-l.events(l.vehicleSub):
			if !ok {
				l.lost(&l.vehicleSub)
				continue
			}
			metrics.FeedEventsTotal.WithLabelValues(string(c.Table)).Inc()
			if !c.HasRecord() {
				l.fetchVehicle(c.ID)
				continue
			}
			var v model.Vehicle
			if err := c.Decode(&v); err != nil {
				log.Printf("[tracking] session %s: %v", s.id, err)
				continue
			}
			l.apply(VehicleUpdate{Vehicle: v})

		case <-l.retry:
			l.retry, l.retryTimer = nil, nil
			l.connect()
		}
	}
}

// events returns nil for a missing subscription, which blocks forever in
// a select.
func (l *loop) events(sub feed.Subscription) <-chan feed.Change {
	if sub == nil {
		return nil
	}
	return sub.Events()
}

// apply folds ev and carries out the resulting effects.
func (l *loop) apply(ev Event) {
	if l.s.closed.Load() {
		return
	}
	vm, effects := Reduce(l.s.Snapshot(), ev)
	l.publish(vm)

	for _, eff := range effects {
		switch e := eff.(type) {
		case OpenVehicleFeed:
			l.openVehicle(e.VehicleID)
		case CloseVehicleFeed:
			l.closeVehicle()
		case Notify:
			metrics.NotificationsTotal.WithLabelValues(string(e.Status)).Inc()
			l.s.opts.Notifier.Notify(e)
		case StopCountdown:
			l.countdown.Stop()
			l.ticks = nil
		case StaleEvent:
			metrics.StaleEventsTotal.WithLabelValues(e.Record).Inc()
		}
	}
}

func (l *loop) publish(vm ViewModel) {
	l.s.mu.Lock()
	l.s.vm = vm
	l.s.mu.Unlock()

	// Single producer: after draining, the send cannot block.
	select {
	case <-l.s.updates:
	default:
	}
	l.s.updates <- vm
}

// connect (re)establishes whatever subscriptions are missing and refetches
// the records they cover, since changes may have been missed meanwhile.
func (l *loop) connect() {
	defer l.loadedOnce.Do(func() { close(l.s.loaded) })
	ok := true

	if l.bookingSub == nil {
		sub, err := l.s.feed.Subscribe(l.ctx, feed.BookingTopic(l.s.bookingID))
		if err != nil {
			log.Printf("[tracking] session %s: subscribe booking: %v", l.s.id, err)
			ok = false
		} else {
			l.bookingSub = sub
		}
	}
	// Fetch even without a subscription so the snapshot is as fresh as
	// possible while degraded.
	l.fetchBooking()

	if id := l.s.Snapshot().VehicleFeed(); id != "" && l.vehicleSub == nil {
		if !l.subscribeVehicle(id) {
			ok = false
		}
	}

	if ok {
		l.backoff.Reset()
		if l.s.Snapshot().Degraded {
			l.apply(FeedState{Connected: true})
		}
		return
	}
	l.degrade()
}

// lost handles a subscription whose channel was closed by the feed.
func (l *loop) lost(sub *feed.Subscription) {
	err := (*sub).Err()
	_ = (*sub).Close()
	*sub = nil
	if l.ctx.Err() != nil {
		return
	}
	log.Printf("[tracking] session %s lost subscription: %v", l.s.id, err)
	metrics.FeedReconnectsTotal.WithLabelValues("session").Inc()
	l.degrade()
}

// degrade marks the view stale and schedules a reconnect.
func (l *loop) degrade() {
	if !l.s.Snapshot().Degraded {
		l.apply(FeedState{Connected: false})
	}
	if l.retry != nil {
		return
	}
	wait := l.backoff.NextBackOff()
	l.retryTimer = time.NewTimer(wait)
	l.retry = l.retryTimer.C
}

func (l *loop) fetchBooking() {
	ctx, cancel := context.WithTimeout(l.ctx, fetchTimeout)
	defer cancel()

	b, err := l.s.store.FetchBooking(ctx, l.s.bookingID)
	if err != nil {
		if l.ctx.Err() != nil {
			return
		}
		log.Printf("[tracking] session %s: fetch booking %s: %v", l.s.id, l.s.bookingID, err)
		l.apply(FetchFailed{Err: err.Error()})
	} else {
		l.apply(BookingUpdate{Booking: *b})
	}
}

func (l *loop) openVehicle(id string) {
	l.closeVehicle()
	if !l.subscribeVehicle(id) {
		l.degrade()
	}
}

// subscribeVehicle subscribes to the vehicle and then loads its current
// row. It reports whether the subscription is open.
func (l *loop) subscribeVehicle(id string) bool {
	sub, err := l.s.feed.Subscribe(l.ctx, feed.VehicleTopic(id))
	if err != nil {
		log.Printf("[tracking] session %s: subscribe vehicle %s: %v", l.s.id, id, err)
		return false
	}
	l.vehicleSub = sub
	l.fetchVehicle(id)
	return true
}

func (l *loop) fetchVehicle(id string) {
	ctx, cancel := context.WithTimeout(l.ctx, fetchTimeout)
	defer cancel()
	v, err := l.s.store.FetchVehicle(ctx, id)
	if err != nil {
		if l.ctx.Err() == nil {
			log.Printf("[tracking] session %s: fetch vehicle %s: %v", l.s.id, id, err)
		}
		return
	}
	l.apply(VehicleUpdate{Vehicle: *v})
}

func (l *loop) closeBooking() {
	if l.bookingSub != nil {
		_ = l.bookingSub.Close()
		l.bookingSub = nil
	}
}

func (l *loop) closeVehicle() {
	if l.vehicleSub != nil {
		_ = l.vehicleSub.Close()
		l.vehicleSub = nil
	}
}
