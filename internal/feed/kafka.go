package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/shiva/fastcare/internal/metrics"
)

// Kafka carries changes on one topic keyed by record, so all changes to a
// record land on the same partition in commit order. Every process reads
// every partition directly, without a consumer group, and routes locally.
type Kafka struct {
	brokers     []string
	topic       string
	maxInterval time.Duration
	writer      *kafka.Writer
	fan         *Fanout
	connected   atomic.Bool
}

// NewKafka creates a feed on the given topic. Call Run to start reading.
func NewKafka(brokers []string, topic string, maxInterval time.Duration) *Kafka {
	return &Kafka{
		brokers:     brokers,
		topic:       topic,
		maxInterval: maxInterval,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		fan: NewFanout(DefaultBuffer),
	}
}

func (k *Kafka) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("feed: encode change: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.Topic().Channel()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("feed: produce %s: %w", c.Topic(), err)
	}
	return nil
}

func (k *Kafka) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	if !k.connected.Load() {
		return nil, ErrUnavailable
	}
	return k.fan.Subscribe(topic)
}

// Run consumes until ctx is cancelled, recreating the reader with backoff
// after failures.
func (k *Kafka) Run(ctx context.Context) error {
	log.Printf("[feed] kafka consumer starting on topic %q", k.topic)
	return runForever(ctx, "kafka", k.maxInterval, k.down, k.consume)
}

func (k *Kafka) down(err error) {
	k.connected.Store(false)
	k.fan.FailAll(ErrDisconnected)
	metrics.FeedReconnectsTotal.WithLabelValues("kafka").Inc()
}

// consume pins each partition to its current end offset before reporting
// ready, so every change written after a subscription exists is read.
func (k *Kafka) consume(ctx context.Context, ready func()) error {
	offsets, err := k.endOffsets(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	readers := make([]*kafka.Reader, 0, len(offsets))
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()
	for partition, offset := range offsets {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   k.brokers,
			Topic:     k.topic,
			Partition: partition,
			MinBytes:  1,
			MaxBytes:  10e6,
		})
		if err := reader.SetOffset(offset); err != nil {
			return fmt.Errorf("partition %d: set offset %d: %w", partition, offset, err)
		}
		readers = append(readers, reader)
	}

	k.connected.Store(true)
	ready()
	log.Printf("[feed] kafka reading %d partitions of %q", len(readers), k.topic)

	for _, reader := range readers {
		g.Go(func() error { return k.read(gctx, reader) })
	}
	return g.Wait()
}

func (k *Kafka) read(ctx context.Context, reader *kafka.Reader) error {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var c Change
		if err := json.Unmarshal(m.Value, &c); err != nil {
			log.Printf("[feed] dropping malformed kafka message at %d/%d: %v", m.Partition, m.Offset, err)
			continue
		}
		k.fan.Deliver(c)
	}
}

// endOffsets returns the next offset to be written on each partition.
func (k *Kafka) endOffsets(ctx context.Context) (map[int]int64, error) {
	var lastErr error
	for _, broker := range k.brokers {
		conn, err := kafka.DefaultDialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(k.topic)
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}

		offsets := make(map[int]int64, len(partitions))
		for _, p := range partitions {
			leader, err := kafka.DefaultDialer.DialLeader(ctx, "tcp", broker, k.topic, p.ID)
			if err != nil {
				return nil, fmt.Errorf("partition %d: dial leader: %w", p.ID, err)
			}
			offset, err := leader.ReadLastOffset()
			_ = leader.Close()
			if err != nil {
				return nil, fmt.Errorf("partition %d: last offset: %w", p.ID, err)
			}
			offsets[p.ID] = offset
		}
		if len(offsets) == 0 {
			return nil, fmt.Errorf("topic %q has no partitions", k.topic)
		}
		return offsets, nil
	}
	return nil, fmt.Errorf("metadata for %q: %w", k.topic, lastErr)
}

func (k *Kafka) Close() error {
	k.connected.Store(false)
	_ = k.fan.Close()
	return k.writer.Close()
}
