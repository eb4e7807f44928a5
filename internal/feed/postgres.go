package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/fastcare/internal/metrics"
)

// maxNotifyPayload is just under PostgreSQL's 8000-byte NOTIFY limit.
const maxNotifyPayload = 7900

// ErrPayloadTooLarge is returned when a change does not fit in a NOTIFY.
var ErrPayloadTooLarge = errors.New("feed: change exceeds notify payload limit")

// Postgres carries changes over LISTEN/NOTIFY on a single channel. One
// dedicated connection listens and routes notifications to local
// subscribers by topic.
type Postgres struct {
	pool        *pgxpool.Pool
	channel     string
	maxInterval time.Duration
	fan         *Fanout
	connected   atomic.Bool
}

// NewPostgres creates a feed on the given NOTIFY channel. Call Run to start
// listening.
func NewPostgres(pool *pgxpool.Pool, channel string, maxInterval time.Duration) *Postgres {
	return &Postgres{
		pool:        pool,
		channel:     channel,
		maxInterval: maxInterval,
		fan:         NewFanout(DefaultBuffer),
	}
}

// Publish sends the change as a NOTIFY. A row too large for the payload
// limit goes out as a reference and subscribers fetch it.
func (p *Postgres) Publish(ctx context.Context, c Change) error {
	payload, err := notifyPayload(c)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, payload); err != nil {
		return fmt.Errorf("feed: notify %s: %w", c.Topic(), err)
	}
	return nil
}

func notifyPayload(c Change) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("feed: encode change: %w", err)
	}
	if len(payload) <= maxNotifyPayload {
		return string(payload), nil
	}
	full := len(payload)
	if payload, err = json.Marshal(c.Reference()); err != nil {
		return "", fmt.Errorf("feed: encode change: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		return "", fmt.Errorf("%w: %s is %d bytes", ErrPayloadTooLarge, c.Topic(), len(payload))
	}
	log.Printf("[feed] %s is %d bytes, notifying by reference", c.Topic(), full)
	return string(payload), nil
}

// Subscribe fails with ErrUnavailable until the listener is connected, so
// callers never read a snapshot that the feed cannot follow up on.
func (p *Postgres) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	if !p.connected.Load() {
		return nil, ErrUnavailable
	}
	return p.fan.Subscribe(topic)
}

// Run listens until ctx is cancelled, reconnecting with backoff.
func (p *Postgres) Run(ctx context.Context) error {
	log.Printf("[feed] postgres listener starting on channel %q", p.channel)
	return runForever(ctx, "postgres", p.maxInterval, p.down, p.listen)
}

func (p *Postgres) down(err error) {
	p.connected.Store(false)
	p.fan.FailAll(ErrDisconnected)
	metrics.FeedReconnectsTotal.WithLabelValues("postgres").Inc()
}

func (p *Postgres) listen(ctx context.Context, ready func()) error {
	pooled, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	// The listening connection never goes back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	p.connected.Store(true)
	ready()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		var c Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			log.Printf("[feed] dropping malformed notification: %v", err)
			continue
		}
		p.fan.Deliver(c)
	}
}

func (p *Postgres) Close() error {
	p.connected.Store(false)
	return p.fan.Close()
}
