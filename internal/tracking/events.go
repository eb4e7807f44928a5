// Package tracking follows one booking in real time. A Session subscribes
// to the booking's change feed (and its assigned vehicle's), folds every
// change and countdown tick through Reduce, and publishes the resulting
// ViewModel.
package tracking

import (
	"time"

	"github.com/shiva/fastcare/internal/model"
)

// ─── Events (inputs to Reduce) ──────────────────────────────

// Event is anything a session folds into its view model.
type Event interface{ event() }

// BookingUpdate carries the full new booking row.
type BookingUpdate struct{ Booking model.Booking }

// VehicleUpdate carries the full new vehicle row.
type VehicleUpdate struct{ Vehicle model.Vehicle }

// TimerTick advances the cosmetic ETA countdown. A zero Elapsed counts as
// one second.
type TimerTick struct{ Elapsed time.Duration }

// FetchFailed records that loading the booking failed.
type FetchFailed struct{ Err string }

// FeedState reports whether the session's subscriptions are live.
type FeedState struct{ Connected bool }

func (BookingUpdate) event() {}
func (VehicleUpdate) event() {}
func (TimerTick) event()     {}
func (FetchFailed) event()   {}
func (FeedState) event()     {}

// ─── Effects (outputs of Reduce) ────────────────────────────

// Effect is an instruction from Reduce to the session that owns the view
// model. Effects are applied in the order returned.
type Effect interface{ effect() }

// OpenVehicleFeed asks the session to subscribe to a vehicle.
type OpenVehicleFeed struct{ VehicleID string }

// CloseVehicleFeed asks the session to drop its vehicle subscription.
type CloseVehicleFeed struct{ VehicleID string }

// Notify is a status-change message for the notification collaborator.
type Notify struct {
	Title   string              `json:"title"`
	Message string              `json:"message"`
	Status  model.BookingStatus `json:"status"`
}

// StopCountdown asks the session to stop its countdown for good.
type StopCountdown struct{}

// StaleEvent reports an update that was ignored for being older than the
// current snapshot. Record is "booking" or "vehicle".
type StaleEvent struct{ Record string }

func (OpenVehicleFeed) effect()  {}
func (CloseVehicleFeed) effect() {}
func (Notify) effect()           {}
func (StopCountdown) effect()    {}
func (StaleEvent) effect()       {}
