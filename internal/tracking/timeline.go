package tracking

import "github.com/shiva/fastcare/internal/model"

var stageLabels = [...]string{
	model.StagePending:    "Request Received",
	model.StageAccepted:   "Ambulance Assigned",
	model.StageInProgress: "En Route to You",
	model.StageCompleted:  "Arrived",
}

type StepState string

const (
	StepDone     StepState = "done"
	StepCurrent  StepState = "current"
	StepUpcoming StepState = "upcoming"
)

type Step struct {
	Label string    `json:"label"`
	State StepState `json:"state"`
}

// Timeline is the progress-bar rendering of a status. A cancelled booking
// has no steps and is rendered as a cancellation view instead.
type Timeline struct {
	Index     int    `json:"index"`
	Cancelled bool   `json:"cancelled"`
	Steps     []Step `json:"steps,omitempty"`
}

// StageIndex returns the position of s in the stage sequence
// pending, accepted, in_progress, completed. Aliases share their stage's
// index; unknown, empty and cancelled statuses return 0.
func StageIndex(s model.BookingStatus) int {
	stage := model.StageOf(s)
	if stage < model.StagePending || stage > model.StageCompleted {
		return 0
	}
	return int(stage)
}

// BuildTimeline renders s. It depends on nothing but s, so an admin
// reverting a status moves the timeline back immediately.
func BuildTimeline(s model.BookingStatus) Timeline {
	if model.StageOf(s) == model.StageCancelled {
		return Timeline{Cancelled: true}
	}

	idx := StageIndex(s)
	steps := make([]Step, len(stageLabels))
	for i, label := range stageLabels {
		state := StepUpcoming
		switch {
		case i < idx:
			state = StepDone
		case i == idx:
			state = StepCurrent
		}
		steps[i] = Step{Label: label, State: state}
	}
	return Timeline{Index: idx, Steps: steps}
}
