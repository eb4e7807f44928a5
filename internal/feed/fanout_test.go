package feed

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustChange(t *testing.T, table Table, id string, record any) Change {
	t.Helper()
	c, err := NewChange(EventUpdate, table, id, record)
	if err != nil {
		t.Fatalf("NewChange: %v", err)
	}
	return c
}

func recv(t *testing.T, sub Subscription) (Change, bool) {
	t.Helper()
	select {
	case c, ok := <-sub.Events():
		return c, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}, false
	}
}

func TestTopicChannel(t *testing.T) {
	if got := BookingTopic("B1").Channel(); got != "fastcare:bookings:B1" {
		t.Errorf("Channel = %q", got)
	}
	if got := VehicleTopic("V1").String(); got != "fastcare:vehicles:V1" {
		t.Errorf("String = %q", got)
	}
}

func TestChangeDecode(t *testing.T) {
	c := mustChange(t, TableVehicles, "V1", map[string]any{"id": "V1", "status": "on_duty"})
	if c.Topic() != VehicleTopic("V1") {
		t.Errorf("Topic = %v", c.Topic())
	}
	var row struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.Decode(&row); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if row.ID != "V1" || row.Status != "on_duty" {
		t.Errorf("decoded %+v", row)
	}
}

func TestMemory_FiltersByRecord(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	b1, _ := m.Subscribe(ctx, BookingTopic("B1"))
	b2, _ := m.Subscribe(ctx, BookingTopic("B2"))
	v1, _ := m.Subscribe(ctx, VehicleTopic("B1"))

	_ = m.Publish(ctx, mustChange(t, TableBookings, "B1", map[string]string{"status": "accepted"}))

	c, ok := recv(t, b1)
	if !ok || c.ID != "B1" || c.Table != TableBookings {
		t.Fatalf("B1 subscriber got %+v ok=%v", c, ok)
	}
	select {
	case c := <-b2.Events():
		t.Errorf("B2 subscriber received %+v", c)
	case c := <-v1.Events():
		t.Errorf("vehicle subscriber received booking change %+v", c)
	default:
	}
}

func TestMemory_CloseUnsubscribes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	topic := BookingTopic("B1")

	sub, _ := m.Subscribe(ctx, topic)
	if m.Subscribers(topic) != 1 {
		t.Fatalf("Subscribers = %d, want 1", m.Subscribers(topic))
	}
	_ = sub.Close()
	_ = sub.Close()

	if m.Subscribers(topic) != 0 {
		t.Errorf("Subscribers after Close = %d, want 0", m.Subscribers(topic))
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("Events should be closed")
	}
	if sub.Err() != nil {
		t.Errorf("Err after Close = %v, want nil", sub.Err())
	}
	// Publishing after unsubscribe must not panic.
	_ = m.Publish(ctx, mustChange(t, TableBookings, "B1", nil))
}

func TestMemory_DropReportsError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sub, _ := m.Subscribe(ctx, BookingTopic("B1"))

	m.Drop(ErrDisconnected)

	if _, ok := recv(t, sub); ok {
		t.Fatal("expected closed channel")
	}
	if !errors.Is(sub.Err(), ErrDisconnected) {
		t.Errorf("Err = %v, want ErrDisconnected", sub.Err())
	}
	_ = sub.Close()
}

func TestFanout_SlowConsumerIsDropped(t *testing.T) {
	f := NewFanout(2)
	sub, _ := f.Subscribe(BookingTopic("B1"))
	for i := 0; i < 3; i++ {
		f.Deliver(mustChange(t, TableBookings, "B1", i))
	}

	n := 0
	for range sub.Events() {
		n++
	}
	if n != 2 {
		t.Errorf("buffered deliveries = %d, want 2", n)
	}
	if !errors.Is(sub.Err(), ErrSlowConsumer) {
		t.Errorf("Err = %v, want ErrSlowConsumer", sub.Err())
	}
}

func TestFanout_ClosedRejectsSubscribe(t *testing.T) {
	f := NewFanout(0)
	_ = f.Close()
	if _, err := f.Subscribe(BookingTopic("B1")); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close err = %v, want ErrClosed", err)
	}
}

func TestPostgres_SubscribeBeforeListen(t *testing.T) {
	p := NewPostgres(nil, "fastcare_changes", time.Second)
	if _, err := p.Subscribe(context.Background(), BookingTopic("B1")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
