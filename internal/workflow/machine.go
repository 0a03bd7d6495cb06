package workflow

import (
	"strings"
	"time"
)

// Action names a workflow action. Values double as audit actions and
// notification event names.
type Action string

const (
	ActionSubmit        Action = "submitted"
	ActionApprove       Action = "approved"
	ActionCancel        Action = "cancelled"
	ActionReturn        Action = "returned"
	ActionReturnToMaker Action = "returned_to_maker"
)

// Transition is the outcome of a successful action: the fields to persist
// and the values the notification step consumes.
type Transition struct {
	Action        Action
	StatusBefore  Status
	Status        Status
	NextApprover  ApproverSet
	FinalApprover ApproverSet
	StampedTier   Tier
	Stamp         TierStamp
	Remarks       string

	// BecameFinal is true only on the single transition that produces APPROVED.
	BecameFinal bool

	// ApprovalValueToSend holds the notification recipients: the maker once
	// approved or closed, otherwise whoever must act next.
	ApprovalValueToSend ApproverSet
	ForFinalApproval    bool
	ReturnFlag          bool
}

// Apply returns state with the transition's fields written.
func (t Transition) Apply(state RequestState) RequestState {
	next := state
	next.Status = t.Status
	next.NextApprover = NewApproverSet(t.NextApprover...)
	next.FinalApprover = NewApproverSet(t.FinalApprover...)
	if t.StampedTier != TierNone {
		next.Tiers[t.StampedTier-1] = t.Stamp
	}
	if t.Action == ActionReturn || t.Action == ActionReturnToMaker {
		next.Remarks = t.Remarks
	}
	return next
}

// Open builds the initial PENDING state for a newly submitted request.
func Open(matrix MatrixEntry, maker string) (RequestState, Transition) {
	state := RequestState{
		Status:       StatusPending,
		Maker:        maker,
		NextApprover: NewApproverSet(matrix.Tier1...),
	}
	return state, Transition{
		Action:              ActionSubmit,
		Status:              StatusPending,
		NextApprover:        state.NextApprover,
		ApprovalValueToSend: state.NextApprover,
	}
}

// Approve computes the transition for actor approving a request. Rules are
// evaluated in a fixed order: compliance short-circuit, tier 1, tier 2,
// tier 3. Tier 1 must sign first; tiers 2 and 3 may sign in either order
// and the request is approved once both have signed.
func Approve(state RequestState, matrix MatrixEntry, actor Actor, now time.Time) (Transition, error) {
	if state.Status.IsTerminal() {
		return Transition{}, ErrRequestClosed
	}
	id := strings.TrimSpace(actor.Identity)
	if id == "" || !actor.IsDesignatedApprover {
		return Transition{}, ErrNotAuthorized
	}

	if actor.IsComplianceFinalApprover {
		return approveCompliance(state, matrix, actor, now)
	}

	if matrix.TierOf(id) == TierNone {
		return Transition{}, ErrNotAuthorized
	}
	if state.HasSigned(id) {
		return Transition{}, ErrAlreadySigned
	}

	t1 := state.Stamp(Tier1)
	t2 := state.Stamp(Tier2)
	t3 := state.Stamp(Tier3)

	if matrix.Tier1.Contains(id) && !t1.Stamped() && !state.FinalApprover.Contains(id) {
		tr := newApproval(state, Tier1, actor, now)
		remaining := matrix.Tier2.Union(matrix.Tier3)
		if remaining.IsEmpty() {
			return tr.final(state), nil
		}
		tr.Status = StatusPending
		tr.NextApprover = remaining
		tr.ApprovalValueToSend = remaining
		return tr, nil
	}

	// Tiers 2 and 3 only act after tier 1.
	if !t1.Stamped() {
		return Transition{}, ErrNotAuthorized
	}
	hintAllows := state.FinalApprover.IsEmpty() || state.FinalApprover.Contains(id)

	if matrix.Tier2.Contains(id) && !t2.Stamped() && hintAllows {
		return secondSignature(state, Tier2, t3, matrix.Tier3, actor, now), nil
	}
	if matrix.Tier3.Contains(id) && !t3.Stamped() && hintAllows {
		return secondSignature(state, Tier3, t2, matrix.Tier2, actor, now), nil
	}
	return Transition{}, ErrNotAuthorized
}

// secondSignature stamps tier and finalises when the counterpart tier has
// already signed or has no approvers configured.
func secondSignature(state RequestState, tier Tier, counterpart TierStamp, counterpartList ApproverSet, actor Actor, now time.Time) Transition {
	tr := newApproval(state, tier, actor, now)
	if counterpart.Stamped() || counterpartList.IsEmpty() {
		return tr.final(state)
	}
	tr.Status = StatusPending
	// nextApprover is cleared as well as finalApprover being set, so the
	// inbox and recipients follow the hint alone.
	tr.NextApprover = ApproverSet{}
	tr.FinalApprover = NewApproverSet(counterpartList...)
	tr.ApprovalValueToSend = tr.FinalApprover
	return tr
}

func approveCompliance(state RequestState, matrix MatrixEntry, actor Actor, now time.Time) (Transition, error) {
	// Compliance fast-forwards the chain; it never bypasses membership.
	if matrix.TierOf(actor.Identity) == TierNone {
		return Transition{}, ErrNotAuthorized
	}
	if state.HasSigned(actor.Identity) {
		return Transition{}, ErrAlreadySigned
	}
	for _, t := range Tiers {
		if matrix.Approvers(t).Contains(actor.Identity) && !state.Stamp(t).Stamped() {
			return newApproval(state, t, actor, now).final(state), nil
		}
	}
	// Every listed tier was stamped by someone else. Finalise without
	// overwriting their stamps.
	tr := newApproval(state, TierNone, actor, now)
	tr.Stamp = TierStamp{}
	return tr.final(state), nil
}

func newApproval(state RequestState, tier Tier, actor Actor, now time.Time) Transition {
	at := now
	return Transition{
		Action:       ActionApprove,
		StatusBefore: state.Status,
		StampedTier:  tier,
		Stamp: TierStamp{
			Approver:     strings.TrimSpace(actor.Identity),
			ApprovedAt:   &at,
			ApproverName: actor.Name(),
		},
		FinalApprover: ApproverSet{},
	}
}

func (t Transition) final(state RequestState) Transition {
	t.Status = StatusApproved
	t.NextApprover = ApproverSet{}
	t.FinalApprover = ApproverSet{}
	t.BecameFinal = true
	t.ForFinalApproval = true
	t.ApprovalValueToSend = NewApproverSet(state.Maker)
	return t
}

// Cancel closes a pending request. The maker or any designated approver
// listed in the matrix may cancel.
func Cancel(state RequestState, matrix MatrixEntry, actor Actor) (Transition, error) {
	if state.Status.IsTerminal() {
		return Transition{}, ErrRequestClosed
	}
	isMaker := actor.Identity != "" && strings.EqualFold(actor.Identity, state.Maker)
	isApprover := actor.IsDesignatedApprover && matrix.TierOf(actor.Identity) != TierNone
	if !isMaker && !isApprover {
		return Transition{}, ErrNotAuthorized
	}
	return Transition{
		Action:              ActionCancel,
		StatusBefore:        state.Status,
		Status:              StatusCancelled,
		NextApprover:        ApproverSet{},
		FinalApprover:       ApproverSet{},
		ApprovalValueToSend: NewApproverSet(state.Maker),
	}, nil
}

// Return sends a pending request back to its maker with remarks. toMaker
// selects the returnToMaker variant, whose notification carries
// final-approval semantics. Tier fields are never touched.
func Return(state RequestState, matrix MatrixEntry, actor Actor, remarks string, toMaker bool) (Transition, error) {
	if state.Status.IsTerminal() {
		return Transition{}, ErrRequestClosed
	}
	if !actor.IsDesignatedApprover || matrix.TierOf(actor.Identity) == TierNone {
		return Transition{}, ErrNotAuthorized
	}
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return Transition{}, ErrRemarksRequired
	}

	action := ActionReturn
	if toMaker {
		action = ActionReturnToMaker
	}
	return Transition{
		Action:              action,
		StatusBefore:        state.Status,
		Status:              StatusReturnToMaker,
		NextApprover:        ApproverSet{},
		FinalApprover:       ApproverSet{},
		Remarks:             remarks,
		ApprovalValueToSend: NewApproverSet(state.Maker),
		ForFinalApproval:    toMaker,
		ReturnFlag:          true,
	}, nil
}
