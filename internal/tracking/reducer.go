package tracking

import (
	"github.com/shiva/fastcare/internal/model"
	"github.com/shiva/fastcare/pkg/maplink"
)

// NotificationTitle is the title of every status-change notification.
const NotificationTitle = "Status Update"

var stageMessages = map[model.Stage]string{
	model.StageAccepted:   "Ambulance has been assigned to your request",
	model.StageInProgress: "Ambulance is now en route to your location",
	model.StageCompleted:  "Ambulance has arrived at your location",
	model.StageCancelled:  "Your booking has been cancelled",
}

// StatusMessage returns the notification text for a booking entering s, or
// "" when s warrants no notification.
func StatusMessage(s model.BookingStatus) string {
	return stageMessages[model.StageOf(s)]
}

// Reduce folds one event into vm and returns the new view model together
// with the effects the owning session must carry out. It performs no I/O
// and never mutates the snapshots referenced by vm.
func Reduce(vm ViewModel, ev Event) (ViewModel, []Effect) {
	switch e := ev.(type) {
	case BookingUpdate:
		return reduceBooking(vm, e.Booking)
	case VehicleUpdate:
		return reduceVehicle(vm, e.Vehicle)
	case TimerTick:
		return reduceTick(vm, e), nil
	case FetchFailed:
		vm.FetchError = e.Err
		return vm, nil
	case FeedState:
		vm.Degraded = !e.Connected
		return vm, nil
	}
	return vm, nil
}

func reduceBooking(vm ViewModel, b model.Booking) (ViewModel, []Effect) {
	if b.ID != vm.BookingID {
		return vm, nil
	}
	prev := vm.Booking
	if prev != nil && staleBooking(prev, &b) {
		return vm, []Effect{StaleEvent{Record: "booking"}}
	}

	var effects []Effect
	next := b
	vm.Booking = &next
	vm.FetchError = ""

	if b.ETAMinutes != nil && !sameBooking(prev, &next) {
		vm.resetETA(*b.ETAMinutes)
	}

	// Vehicle subscription: at most one, closed before the next is opened,
	// and none once the booking is over.
	want := b.VehicleID()
	if b.Status.Terminal() {
		want = ""
	}
	if want != vm.vehicleFeed {
		if vm.vehicleFeed != "" {
			effects = append(effects, CloseVehicleFeed{VehicleID: vm.vehicleFeed})
		}
		if want != "" {
			effects = append(effects, OpenVehicleFeed{VehicleID: want})
		}
		vm.vehicleFeed = want
	}
	if vm.Vehicle != nil && vm.Vehicle.ID != b.VehicleID() {
		vm.Vehicle = nil
		vm.VehicleMapURL = ""
	}

	if prev != nil && model.StageOf(prev.Status) != model.StageOf(b.Status) {
		if msg := StatusMessage(b.Status); msg != "" {
			effects = append(effects, Notify{Title: NotificationTitle, Message: msg, Status: b.Status})
		}
	}
	if b.Status.Terminal() && (prev == nil || !prev.Status.Terminal()) {
		effects = append(effects, StopCountdown{})
	}

	vm.Timeline = BuildTimeline(b.Status)
	if b.PickupCoordinates != nil {
		vm.PickupMapURL = maplink.ForPosition(*b.PickupCoordinates)
	} else {
		vm.PickupMapURL = maplink.ForAddress(b.PickupLocation)
	}
	vm.recomputeETA()
	return vm, effects
}

func reduceVehicle(vm ViewModel, v model.Vehicle) (ViewModel, []Effect) {
	if vm.Booking == nil || v.ID == "" || v.ID != vm.Booking.VehicleID() {
		return vm, nil
	}
	if vm.Vehicle != nil && v.UpdatedAt.Before(vm.Vehicle.UpdatedAt) {
		return vm, []Effect{StaleEvent{Record: "vehicle"}}
	}
	next := v
	vm.Vehicle = &next
	vm.VehicleMapURL = maplink.ForVehicle(&next)
	return vm, nil
}

func reduceTick(vm ViewModel, t TimerTick) ViewModel {
	if vm.Booking == nil || vm.Booking.Status.Terminal() {
		return vm
	}
	elapsed := t.Elapsed
	if elapsed <= 0 {
		elapsed = tickDefault
	}
	vm.etaElapsed += elapsed
	vm.recomputeETA()
	return vm
}

// staleBooking reports whether b must not replace prev. Writes through the
// repository give every version a strictly later updated_at, so equal
// timestamps with different content only come from writers outside it. Those
// ties go to the later lifecycle stage, which keeps a terminal status from
// being undone whatever order the two changes arrive in.
func staleBooking(prev, b *model.Booking) bool {
	if b.UpdatedAt.Before(prev.UpdatedAt) {
		return true
	}
	if !b.UpdatedAt.Equal(prev.UpdatedAt) || sameBooking(prev, b) {
		return false
	}
	return model.StageOf(b.Status) < model.StageOf(prev.Status)
}

// sameBooking reports whether b repeats the fields of prev that drive the
// countdown, i.e. it is a redelivery rather than a new write.
func sameBooking(prev, b *model.Booking) bool {
	if prev == nil {
		return false
	}
	if !prev.UpdatedAt.Equal(b.UpdatedAt) || prev.Status != b.Status || prev.VehicleID() != b.VehicleID() {
		return false
	}
	if (prev.ETAMinutes == nil) != (b.ETAMinutes == nil) {
		return false
	}
	return prev.ETAMinutes == nil || *prev.ETAMinutes == *b.ETAMinutes
}
