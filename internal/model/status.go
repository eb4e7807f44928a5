package model

// Stage is the canonical position of a booking in its lifecycle. Status
// aliases (scheduled, dispatched, confirmed) collapse onto the same stage.
type Stage int

const (
	StageUnknown Stage = iota - 1
	StagePending
	StageAccepted
	StageInProgress
	StageCompleted
	StageCancelled
)

var statusStages = map[BookingStatus]Stage{
	BookingPending:    StagePending,
	BookingScheduled:  StagePending,
	BookingAccepted:   StageAccepted,
	BookingDispatched: StageAccepted,
	BookingConfirmed:  StageAccepted,
	BookingInProgress: StageInProgress,
	BookingCompleted:  StageCompleted,
	BookingCancelled:  StageCancelled,
}

// StageOf maps a status to its stage. Unknown values return StageUnknown.
func StageOf(s BookingStatus) Stage {
	if stage, ok := statusStages[s]; ok {
		return stage
	}
	return StageUnknown
}

// Known reports whether s is a recognised status value.
func (s BookingStatus) Known() bool {
	return StageOf(s) != StageUnknown
}

// Terminal reports whether no further transitions are allowed from s.
func (s BookingStatus) Terminal() bool {
	stage := StageOf(s)
	return stage == StageCompleted || stage == StageCancelled
}

// CanTransition reports whether a booking may move from one status to another.
//
// Stages only move forward along pending → accepted → in_progress → completed,
// and cancelled is reachable from any non-terminal stage. Skipping forward
// (e.g. an admin completing a dispatched booking directly) is allowed;
// moving backwards or staying on the same stage is not.
func CanTransition(from, to BookingStatus) bool {
	fromStage, toStage := StageOf(from), StageOf(to)
	if fromStage == StageUnknown || toStage == StageUnknown {
		return false
	}
	if from.Terminal() {
		return false
	}
	if toStage == StageCancelled {
		return true
	}
	return toStage > fromStage
}

// AcceptedStatusFor is the status a booking of the given kind takes when a
// vehicle is dispatched to it.
func AcceptedStatusFor(kind BookingKind) BookingStatus {
	if kind == KindTransport {
		return BookingConfirmed
	}
	return BookingDispatched
}

// InitialStatusFor is the status a new booking of the given kind starts in.
func InitialStatusFor(kind BookingKind) BookingStatus {
	if kind == KindTransport {
		return BookingScheduled
	}
	return BookingPending
}
