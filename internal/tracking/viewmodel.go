package tracking

import (
	"fmt"
	"math"
	"time"

	"github.com/shiva/fastcare/internal/model"
)

// ViewModel is the render-ready state of one tracking session. Snapshots
// are never mutated in place: every fold that changes one installs a fresh
// copy, so a ViewModel handed to a reader stays valid.
type ViewModel struct {
	BookingID string         `json:"booking_id"`
	Booking   *model.Booking `json:"booking,omitempty"`
	Vehicle   *model.Vehicle `json:"vehicle,omitempty"`

	DisplayedETAMinutes float64 `json:"displayed_eta_minutes"`
	ETALabel            string  `json:"eta_label"`

	Timeline      Timeline `json:"timeline"`
	PickupMapURL  string   `json:"pickup_map_url,omitempty"`
	VehicleMapURL string   `json:"vehicle_map_url,omitempty"`

	// Degraded is set while the feed is down and the snapshot may be stale.
	Degraded   bool   `json:"degraded"`
	FetchError string `json:"fetch_error,omitempty"`

	// Countdown bookkeeping. The displayed value is recomputed from the last
	// authoritative ETA and the time elapsed since, which keeps it exact
	// across many ticks.
	etaBase    float64
	etaElapsed time.Duration

	// vehicleFeed is the vehicle the session should be subscribed to.
	vehicleFeed string
}

// NewViewModel is the state of a session before anything has been loaded.
// initialETA is shown until the booking carries its own estimate.
func NewViewModel(bookingID string, initialETA float64) ViewModel {
	vm := ViewModel{
		BookingID: bookingID,
		Timeline:  BuildTimeline(""),
		etaBase:   math.Max(0, initialETA),
	}
	vm.recomputeETA()
	return vm
}

// Loaded reports whether the booking has been fetched at least once.
func (vm ViewModel) Loaded() bool { return vm.Booking != nil }

// Status is the current booking status, or "" before the first load.
func (vm ViewModel) Status() model.BookingStatus {
	if vm.Booking == nil {
		return ""
	}
	return vm.Booking.Status
}

// VehicleFeed is the vehicle whose feed should currently be open, or "".
func (vm ViewModel) VehicleFeed() string { return vm.vehicleFeed }

func (vm *ViewModel) resetETA(minutes float64) {
	vm.etaBase = math.Max(0, minutes)
	vm.etaElapsed = 0
	vm.recomputeETA()
}

func (vm *ViewModel) recomputeETA() {
	vm.DisplayedETAMinutes = math.Max(0, vm.etaBase-vm.etaElapsed.Minutes())
	vm.ETALabel = etaLabel(vm.Status(), vm.DisplayedETAMinutes)
}

func etaLabel(s model.BookingStatus, minutes float64) string {
	if model.StageOf(s) == model.StageCompleted {
		return "Arrived"
	}
	return fmt.Sprintf("%d min", int(math.Ceil(minutes)))
}
