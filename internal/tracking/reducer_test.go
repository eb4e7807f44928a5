package tracking

import (
	"reflect"
	"testing"
	"time"

	"github.com/shiva/fastcare/internal/model"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func eta(v float64) *float64 { return &v }

func vehicleID(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func bookingAt(status model.BookingStatus, etaMin *float64, vehicle string, at time.Time) model.Booking {
	return model.Booking{
		ID:                "B1",
		Kind:              model.KindEmergency,
		Status:            status,
		ETAMinutes:        etaMin,
		AssignedVehicleID: vehicleID(vehicle),
		PickupLocation:    "12 MG Road",
		CreatedAt:         t0,
		UpdatedAt:         at,
	}
}

func fold(vm ViewModel, events ...Event) (ViewModel, []Effect) {
	var all []Effect
	for _, ev := range events {
		var effects []Effect
		vm, effects = Reduce(vm, ev)
		all = append(all, effects...)
	}
	return vm, all
}

func ticks(n int) []Event {
	out := make([]Event, n)
	for i := range out {
		out[i] = TimerTick{Elapsed: time.Second}
	}
	return out
}

func TestReduce_DuplicateBookingUpdateIsIdempotent(t *testing.T) {
	ev := BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(9), "V1", t0.Add(time.Minute))}
	base, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingPending, eta(10), "", t0)})

	once, _ := Reduce(base, ev)
	twice, effects := Reduce(once, ev)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second delivery changed the view model:\nonce  %+v\ntwice %+v", once, twice)
	}
	if len(effects) != 0 {
		t.Errorf("duplicate delivery produced effects %+v", effects)
	}
}

func TestReduce_DuplicateAfterTicksKeepsCountdown(t *testing.T) {
	ev := BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(9), "V1", t0)}
	vm, _ := fold(NewViewModel("B1", 10), append([]Event{ev}, ticks(30)...)...)
	before := vm.DisplayedETAMinutes

	vm, _ = Reduce(vm, ev)
	if vm.DisplayedETAMinutes != before {
		t.Errorf("redelivery reset countdown: %v → %v", before, vm.DisplayedETAMinutes)
	}
}

func TestReduce_StageIndexNonDecreasingOnLegalPaths(t *testing.T) {
	paths := [][]model.BookingStatus{
		{model.BookingPending, model.BookingAccepted, model.BookingInProgress, model.BookingCompleted},
		{model.BookingPending, model.BookingDispatched, model.BookingCompleted},
		{model.BookingScheduled, model.BookingConfirmed, model.BookingInProgress},
		{model.BookingPending, model.BookingInProgress},
	}
	for _, path := range paths {
		vm := NewViewModel("B1", 10)
		last := -1
		for i, st := range path {
			if i > 0 && !model.CanTransition(path[i-1], st) {
				t.Fatalf("test path %v is not legal at %s", path, st)
			}
			vm, _ = Reduce(vm, BookingUpdate{Booking: bookingAt(st, nil, "", t0.Add(time.Duration(i)*time.Minute))})
			if vm.Timeline.Cancelled {
				t.Fatalf("%s rendered as cancelled", st)
			}
			if vm.Timeline.Index < last {
				t.Errorf("path %v: index went %d → %d at %s", path, last, vm.Timeline.Index, st)
			}
			last = vm.Timeline.Index
		}

		// Cancelling from the last non-terminal status always routes to the
		// cancellation view.
		if path[len(path)-1].Terminal() {
			continue
		}
		vm, _ = Reduce(vm, BookingUpdate{Booking: bookingAt(model.BookingCancelled, nil, "", t0.Add(time.Hour))})
		if !vm.Timeline.Cancelled || len(vm.Timeline.Steps) != 0 {
			t.Errorf("path %v: cancelled timeline = %+v", path, vm.Timeline)
		}
	}
}

func TestReduce_TickIsNoOpAfterTerminal(t *testing.T) {
	for _, terminal := range []model.BookingStatus{model.BookingCompleted, model.BookingCancelled} {
		vm, effects := fold(NewViewModel("B1", 10),
			BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(6), "V1", t0)},
			BookingUpdate{Booking: bookingAt(terminal, eta(5), "V1", t0.Add(time.Minute))},
		)
		if !hasEffect(effects, StopCountdown{}) {
			t.Errorf("%s: no StopCountdown in %+v", terminal, effects)
		}
		before := vm.DisplayedETAMinutes
		vm, _ = fold(vm, ticks(120)...)
		if vm.DisplayedETAMinutes != before {
			t.Errorf("%s: tick changed ETA %v → %v", terminal, before, vm.DisplayedETAMinutes)
		}
	}
}

func TestReduce_ETAReconciliation(t *testing.T) {
	vm, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(5), "V1", t0)})
	if vm.DisplayedETAMinutes != 5 {
		t.Fatalf("displayed = %v, want 5", vm.DisplayedETAMinutes)
	}

	vm, _ = fold(vm, ticks(60)...)
	if vm.DisplayedETAMinutes != 4 {
		t.Errorf("after 60 ticks displayed = %v, want 4", vm.DisplayedETAMinutes)
	}

	vm, _ = fold(vm, ticks(17)...)
	vm, _ = Reduce(vm, BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(8), "V1", t0.Add(time.Minute))})
	if vm.DisplayedETAMinutes != 8 {
		t.Errorf("after authoritative update displayed = %v, want 8", vm.DisplayedETAMinutes)
	}
}

func TestReduce_TickFloorsAtZero(t *testing.T) {
	vm, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(0.5), "", t0)})
	vm, _ = fold(vm, ticks(45)...)
	if vm.DisplayedETAMinutes != 0 {
		t.Errorf("displayed = %v, want 0", vm.DisplayedETAMinutes)
	}
}

func TestReduce_InitialETAUntilBookingHasOne(t *testing.T) {
	vm, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingPending, nil, "", t0)})
	if vm.DisplayedETAMinutes != 10 || vm.ETALabel != "10 min" {
		t.Errorf("displayed = %v %q, want 10 / \"10 min\"", vm.DisplayedETAMinutes, vm.ETALabel)
	}
}

func TestReduce_VehicleReassignmentClosesBeforeOpening(t *testing.T) {
	vm, effects := fold(NewViewModel("B1", 10),
		BookingUpdate{Booking: bookingAt(model.BookingPending, nil, "", t0)},
		BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(9), "V1", t0.Add(time.Minute))},
	)
	if !reflect.DeepEqual(effects[0], OpenVehicleFeed{VehicleID: "V1"}) {
		t.Fatalf("effects = %+v, want OpenVehicleFeed V1 first", effects)
	}
	vm, _ = Reduce(vm, VehicleUpdate{Vehicle: model.Vehicle{ID: "V1", Status: model.VehicleOnDuty, UpdatedAt: t0}})
	if vm.Vehicle == nil || vm.Vehicle.ID != "V1" {
		t.Fatalf("vehicle snapshot = %+v", vm.Vehicle)
	}

	vm, effects = Reduce(vm, BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(7), "V2", t0.Add(2*time.Minute))})
	want := []Effect{CloseVehicleFeed{VehicleID: "V1"}, OpenVehicleFeed{VehicleID: "V2"}}
	if !reflect.DeepEqual(effects, want) {
		t.Errorf("effects = %+v, want %+v", effects, want)
	}
	if vm.Vehicle != nil {
		t.Errorf("stale V1 snapshot kept after reassignment: %+v", vm.Vehicle)
	}
	if vm.VehicleFeed() != "V2" {
		t.Errorf("VehicleFeed = %q, want V2", vm.VehicleFeed())
	}

	// A late V1 update must not be shown.
	vm, _ = Reduce(vm, VehicleUpdate{Vehicle: model.Vehicle{ID: "V1", UpdatedAt: t0.Add(time.Hour)}})
	if vm.Vehicle != nil {
		t.Errorf("update for unassigned vehicle applied: %+v", vm.Vehicle)
	}
}

func TestReduce_VehicleUpdateLeavesETA(t *testing.T) {
	vm, _ := fold(NewViewModel("B1", 10),
		BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(6), "V1", t0)},
		TimerTick{Elapsed: 30 * time.Second},
	)
	before := vm.DisplayedETAMinutes
	vm, _ = Reduce(vm, VehicleUpdate{Vehicle: model.Vehicle{
		ID:              "V1",
		CurrentPosition: &model.Location{Lat: 12.9, Lng: 77.6},
		UpdatedAt:       t0.Add(time.Minute),
	}})
	if vm.DisplayedETAMinutes != before {
		t.Errorf("vehicle update changed ETA %v → %v", before, vm.DisplayedETAMinutes)
	}
	if vm.VehicleMapURL != "https://www.google.com/maps?q=12.9,77.6" {
		t.Errorf("VehicleMapURL = %q", vm.VehicleMapURL)
	}
}

func TestReduce_StaleUpdatesIgnored(t *testing.T) {
	vm, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingInProgress, eta(3), "V1", t0.Add(time.Minute))})

	next, effects := Reduce(vm, BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(9), "V1", t0)})
	if !reflect.DeepEqual(next, vm) {
		t.Error("older booking update changed the view model")
	}
	if !reflect.DeepEqual(effects, []Effect{StaleEvent{Record: "booking"}}) {
		t.Errorf("effects = %+v", effects)
	}

	vm, _ = Reduce(vm, VehicleUpdate{Vehicle: model.Vehicle{ID: "V1", VehicleNumber: "new", UpdatedAt: t0.Add(time.Minute)}})
	next, effects = Reduce(vm, VehicleUpdate{Vehicle: model.Vehicle{ID: "V1", VehicleNumber: "old", UpdatedAt: t0}})
	if next.Vehicle.VehicleNumber != "new" {
		t.Errorf("older vehicle update applied: %+v", next.Vehicle)
	}
	if !reflect.DeepEqual(effects, []Effect{StaleEvent{Record: "vehicle"}}) {
		t.Errorf("effects = %+v", effects)
	}
}

func TestReduce_EqualTimestampNeverUndoesCancellation(t *testing.T) {
	at := t0.Add(time.Minute)
	cancelled := BookingUpdate{Booking: bookingAt(model.BookingCancelled, nil, "V1", at)}
	enRoute := BookingUpdate{Booking: bookingAt(model.BookingInProgress, eta(4), "V1", at)}

	orders := map[string][]Event{
		"cancel first": {cancelled, enRoute},
		"cancel last":  {enRoute, cancelled},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			start, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingDispatched, eta(9), "V1", t0)})
			vm, effects := fold(start, order...)

			if vm.Booking.Status != model.BookingCancelled || !vm.Timeline.Cancelled {
				t.Errorf("final status = %s, cancelled view %v", vm.Booking.Status, vm.Timeline.Cancelled)
			}
			if vm.VehicleFeed() != "" {
				t.Errorf("vehicle feed %q open after cancellation", vm.VehicleFeed())
			}
			if name == "cancel first" {
				for _, e := range effects {
					if n, ok := e.(Notify); ok && n.Status != model.BookingCancelled {
						t.Errorf("notified %s after cancellation", n.Status)
					}
					if _, ok := e.(OpenVehicleFeed); ok {
						t.Errorf("vehicle feed reopened: %+v", effects)
					}
				}
				if !hasEffect(effects, StaleEvent{Record: "booking"}) {
					t.Errorf("tie not reported as stale: %+v", effects)
				}
			}
		})
	}
}

func TestReduce_EqualTimestampRedeliveryApplies(t *testing.T) {
	ev := BookingUpdate{Booking: bookingAt(model.BookingInProgress, eta(4), "V1", t0)}
	vm, _ := Reduce(NewViewModel("B1", 10), ev)

	next, effects := Reduce(vm, ev)
	if len(effects) != 0 || !reflect.DeepEqual(next, vm) {
		t.Errorf("redelivery of the shown version: effects %+v", effects)
	}
}

func TestReduce_ForeignBookingIgnored(t *testing.T) {
	vm := NewViewModel("B1", 10)
	other := bookingAt(model.BookingDispatched, eta(2), "V9", t0)
	other.ID = "B2"
	next, effects := Reduce(vm, BookingUpdate{Booking: other})
	if !reflect.DeepEqual(next, vm) || len(effects) != 0 {
		t.Errorf("foreign booking applied: %+v %+v", next, effects)
	}
}

func TestReduce_Notifications(t *testing.T) {
	cases := []struct {
		from, to model.BookingStatus
		want     string
	}{
		{model.BookingPending, model.BookingAccepted, "Ambulance has been assigned to your request"},
		{model.BookingPending, model.BookingDispatched, "Ambulance has been assigned to your request"},
		{model.BookingAccepted, model.BookingInProgress, "Ambulance is now en route to your location"},
		{model.BookingInProgress, model.BookingCompleted, "Ambulance has arrived at your location"},
		{model.BookingPending, model.BookingCancelled, "Your booking has been cancelled"},
		{model.BookingAccepted, model.BookingDispatched, ""},
		{model.BookingAccepted, "teleported", ""},
		{model.BookingAccepted, model.BookingPending, ""},
	}
	for _, tt := range cases {
		vm, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(tt.from, nil, "", t0)})
		_, effects := Reduce(vm, BookingUpdate{Booking: bookingAt(tt.to, nil, "", t0.Add(time.Minute))})

		var got string
		for _, e := range effects {
			if n, ok := e.(Notify); ok {
				if n.Title != NotificationTitle {
					t.Errorf("title = %q", n.Title)
				}
				got = n.Message
			}
		}
		if got != tt.want {
			t.Errorf("%s → %s: message %q, want %q", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestReduce_NoNotificationOnFirstLoad(t *testing.T) {
	_, effects := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingInProgress, nil, "", t0)})
	for _, e := range effects {
		if _, ok := e.(Notify); ok {
			t.Errorf("initial load notified: %+v", e)
		}
	}
}

func TestReduce_UnknownStatusDegradesGracefully(t *testing.T) {
	vm, effects := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt("on_hold", nil, "", t0)})
	if vm.Timeline.Index != 0 || vm.Timeline.Cancelled {
		t.Errorf("timeline = %+v, want index 0", vm.Timeline)
	}
	if len(effects) != 0 {
		t.Errorf("effects = %+v", effects)
	}
}

func TestReduce_FetchFailedAndFeedState(t *testing.T) {
	vm, _ := fold(NewViewModel("B1", 10), FetchFailed{Err: "boom"}, FeedState{Connected: false})
	if vm.FetchError != "boom" || !vm.Degraded {
		t.Errorf("vm = %+v", vm)
	}
	vm, _ = fold(vm, BookingUpdate{Booking: bookingAt(model.BookingPending, nil, "", t0)}, FeedState{Connected: true})
	if vm.FetchError != "" || vm.Degraded {
		t.Errorf("vm after recovery = %+v", vm)
	}
}

func TestReduce_PickupMapURL(t *testing.T) {
	b := bookingAt(model.BookingPending, nil, "", t0)
	vm, _ := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: b})
	if vm.PickupMapURL != "https://www.google.com/maps/search/?api=1&query=12+MG+Road" {
		t.Errorf("address link = %q", vm.PickupMapURL)
	}
	b.PickupCoordinates = &model.Location{Lat: 1, Lng: 2}
	b.UpdatedAt = t0.Add(time.Second)
	vm, _ = Reduce(vm, BookingUpdate{Booking: b})
	if vm.PickupMapURL != "https://www.google.com/maps?q=1,2" {
		t.Errorf("coordinate link = %q", vm.PickupMapURL)
	}
}

// The worked example: pending → accepted with V1 → a minute of ticks →
// completed.
func TestReduce_BookingLifecycleScenario(t *testing.T) {
	vm, effects := Reduce(NewViewModel("B1", 10), BookingUpdate{Booking: bookingAt(model.BookingPending, eta(10), "", t0)})
	if vm.Timeline.Index != 0 || len(effects) != 0 {
		t.Fatalf("initial: index %d effects %+v", vm.Timeline.Index, effects)
	}

	vm, effects = Reduce(vm, BookingUpdate{Booking: bookingAt(model.BookingAccepted, eta(9), "V1", t0.Add(time.Minute))})
	if vm.Timeline.Index != 1 {
		t.Errorf("after accept index = %d, want 1", vm.Timeline.Index)
	}
	want := []Effect{
		OpenVehicleFeed{VehicleID: "V1"},
		Notify{Title: NotificationTitle, Message: "Ambulance has been assigned to your request", Status: model.BookingAccepted},
	}
	if !reflect.DeepEqual(effects, want) {
		t.Errorf("accept effects = %+v, want %+v", effects, want)
	}

	vm, _ = fold(vm, ticks(60)...)
	if vm.DisplayedETAMinutes != 8 {
		t.Errorf("after 60 ticks displayed = %v, want 8", vm.DisplayedETAMinutes)
	}

	vm, effects = Reduce(vm, BookingUpdate{Booking: bookingAt(model.BookingCompleted, eta(0), "V1", t0.Add(3*time.Minute))})
	if vm.Timeline.Index != 3 {
		t.Errorf("after complete index = %d, want 3", vm.Timeline.Index)
	}
	want = []Effect{
		CloseVehicleFeed{VehicleID: "V1"},
		Notify{Title: NotificationTitle, Message: "Ambulance has arrived at your location", Status: model.BookingCompleted},
		StopCountdown{},
	}
	if !reflect.DeepEqual(effects, want) {
		t.Errorf("complete effects = %+v, want %+v", effects, want)
	}
	if vm.ETALabel != "Arrived" {
		t.Errorf("ETALabel = %q, want Arrived", vm.ETALabel)
	}
}

func hasEffect(effects []Effect, want Effect) bool {
	for _, e := range effects {
		if reflect.DeepEqual(e, want) {
			return true
		}
	}
	return false
}
