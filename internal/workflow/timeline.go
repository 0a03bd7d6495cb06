package workflow

import "time"

// StepState is the display state of a timeline step.
type StepState string

const (
	StepDone    StepState = "done"
	StepActive  StepState = "active"
	StepWaiting StepState = "waiting"
)

// TimelineStep is one of the four display steps.
type TimelineStep struct {
	Key          string     `json:"key"`
	Label        string     `json:"label"`
	Approver     string     `json:"approver,omitempty"`
	ApproverName string     `json:"approver_name,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	State        StepState  `json:"state"`
}

// Timeline is the maker -> 1st -> 2nd -> 3rd read model.
type Timeline struct {
	Status    Status         `json:"status"`
	Cancelled bool           `json:"cancelled"`
	Steps     []TimelineStep `json:"steps"`
}

// Project derives the timeline from request fields. It performs no
// authorization and writes nothing.
func Project(state RequestState, submittedAt *time.Time) Timeline {
	pending := state.Status == StatusPending

	maker := TimelineStep{
		Key:        "maker",
		Label:      "Maker",
		Approver:   state.Maker,
		ApprovedAt: submittedAt,
		State:      StepWaiting,
	}
	if state.Maker != "" && submittedAt != nil {
		maker.State = StepDone
	}

	steps := []TimelineStep{maker}
	t1Done := state.Stamp(Tier1).Stamped()
	for _, t := range Tiers {
		stamp := state.Stamp(t)
		step := TimelineStep{
			Key:          tierKey(t),
			Label:        t.String() + " Approver",
			Approver:     stamp.Approver,
			ApproverName: stamp.ApproverName,
			ApprovedAt:   stamp.ApprovedAt,
			State:        StepWaiting,
		}
		switch {
		case stamp.Stamped():
			step.State = StepDone
		case pending && (t == Tier1 || t1Done):
			step.State = StepActive
		}
		steps = append(steps, step)
	}

	return Timeline{
		Status:    state.Status,
		Cancelled: state.Status == StatusCancelled,
		Steps:     steps,
	}
}

func tierKey(t Tier) string {
	switch t {
	case Tier1:
		return "first"
	case Tier2:
		return "second"
	default:
		return "third"
	}
}
