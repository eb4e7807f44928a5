// Package feed delivers row-level change notifications for bookings and
// vehicles.
//
// Every backend filters by record: a subscription is opened for one
// Topic (table + record id) and never receives changes for other records.
// Writers publish a Change after their transaction commits.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrDisconnected ends subscriptions when the backend loses its
	// connection. Changes committed during the gap may be lost, so
	// subscribers must refetch after resubscribing.
	ErrDisconnected = errors.New("feed: backend disconnected")

	// ErrUnavailable is returned by Subscribe while the backend is not
	// connected yet.
	ErrUnavailable = errors.New("feed: backend not connected")

	// ErrSlowConsumer ends a subscription whose buffer overflowed.
	ErrSlowConsumer = errors.New("feed: subscriber buffer overflow")

	// ErrClosed is returned after the feed itself has been closed.
	ErrClosed = errors.New("feed: closed")
)

// ─── Topics ─────────────────────────────────────────────────

type Table string

const (
	TableBookings Table = "bookings"
	TableVehicles Table = "vehicles"
)

// Topic identifies a single record.
type Topic struct {
	Table Table
	ID    string
}

// BookingTopic is the topic for one booking.
func BookingTopic(id string) Topic { return Topic{Table: TableBookings, ID: id} }

// VehicleTopic is the topic for one vehicle.
func VehicleTopic(id string) Topic { return Topic{Table: TableVehicles, ID: id} }

// Channel is the wire name of the topic, e.g. "fastcare:bookings:<id>".
func (t Topic) Channel() string {
	return fmt.Sprintf("fastcare:%s:%s", t.Table, t.ID)
}

func (t Topic) String() string { return t.Channel() }

// ─── Changes ────────────────────────────────────────────────

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// Change is one committed write to a record. Record holds the full new row
// as JSON, or is empty when the backend could only carry a reference and
// subscribers must fetch the row themselves.
type Change struct {
	Type   EventType       `json:"type"`
	Table  Table           `json:"table"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
}

// NewChange encodes record as the new row of a change.
func NewChange(typ EventType, table Table, id string, record any) (Change, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Change{}, fmt.Errorf("feed: encode %s %s: %w", table, id, err)
	}
	return Change{Type: typ, Table: table, ID: id, Record: raw}, nil
}

// Topic returns the topic the change belongs to.
func (c Change) Topic() Topic { return Topic{Table: c.Table, ID: c.ID} }

// HasRecord reports whether the change carries the new row.
func (c Change) HasRecord() bool {
	return len(c.Record) > 0 && string(c.Record) != "null"
}

// Reference returns the change without its row.
func (c Change) Reference() Change {
	c.Record = nil
	return c
}

// Decode unmarshals the new row into v.
func (c Change) Decode(v any) error {
	if err := json.Unmarshal(c.Record, v); err != nil {
		return fmt.Errorf("feed: decode %s: %w", c.Topic(), err)
	}
	return nil
}

// ─── Interfaces ─────────────────────────────────────────────

// Subscription is a stream of changes for one topic.
type Subscription interface {
	Topic() Topic
	// Events is closed when the subscription ends.
	Events() <-chan Change
	// Err reports why Events was closed: nil after Close, an error after a
	// backend failure.
	Err() error
	// Close unsubscribes. It is safe to call more than once.
	Close() error
}

// Publisher announces committed changes.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Subscriber opens per-record subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, topic Topic) (Subscription, error)
}

// Feed is a complete change feed backend.
type Feed interface {
	Publisher
	Subscriber
	Close() error
}

// Runner is implemented by backends that need a background listener.
type Runner interface {
	Run(ctx context.Context) error
}
