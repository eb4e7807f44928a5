package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/fastcare/internal/metrics"
)

// Redis publishes each change on the record's own pub/sub channel, so
// filtering happens in Redis rather than in the process.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a feed on an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("feed: encode change: %w", err)
	}
	if err := r.client.Publish(ctx, c.Topic().Channel(), payload).Err(); err != nil {
		return fmt.Errorf("feed: publish %s: %w", c.Topic(), err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (r *Redis) Subscribe(ctx context.Context, topic Topic) (Subscription, error) {
	ps := r.client.Subscribe(ctx, topic.Channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("feed: subscribe %s: %w", topic, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{
		topic:  topic,
		ps:     ps,
		ch:     make(chan Change, DefaultBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.pump(pumpCtx)
	return sub, nil
}

// Close is a no-op: the client is owned by the caller.
func (r *Redis) Close() error { return nil }

type redisSub struct {
	topic  Topic
	ps     *redis.PubSub
	ch     chan Change
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *redisSub) Topic() Topic          { return s.topic }
func (s *redisSub) Events() <-chan Change { return s.ch }

func (s *redisSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the pump and waits for it to exit.
func (s *redisSub) Close() error {
	s.cancel()
	err := s.ps.Close()
	<-s.done
	return err
}

// pump ends the subscription on the first receive error instead of letting
// go-redis resubscribe silently, so the session knows to refetch.
func (s *redisSub) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[feed] redis subscription %s lost: %v", s.topic, err)
				metrics.FeedReconnectsTotal.WithLabelValues("redis").Inc()
				s.mu.Lock()
				s.err = ErrDisconnected
				s.mu.Unlock()
			}
			return
		}

		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			log.Printf("[feed] dropping malformed message on %s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.ch <- c:
		case <-ctx.Done():
			return
		}
	}
}
