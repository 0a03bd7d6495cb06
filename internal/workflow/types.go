package workflow

import (
	"strings"
	"time"
)

// Status is a request's approveStatus.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusApproved      Status = "APPROVED"
	StatusCancelled     Status = "CANCELLED"
	StatusReturnToMaker Status = "RETURN_TO_MAKER"
)

var validStatuses = map[Status]bool{
	StatusPending:       true,
	StatusApproved:      true,
	StatusCancelled:     true,
	StatusReturnToMaker: true,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool { return validStatuses[s] }

// IsTerminal reports whether no further action is possible in this cycle.
func (s Status) IsTerminal() bool { return s != StatusPending }

func (s Status) String() string { return string(s) }

// AllCompanies is the matrix/executive company sentinel meaning "every company".
const AllCompanies = "ALL"

// Tier identifies a stage of the approval chain. Zero means no tier.
type Tier int

const (
	TierNone Tier = iota
	Tier1
	Tier2
	Tier3
)

// Tiers lists the chain in evaluation order.
var Tiers = []Tier{Tier1, Tier2, Tier3}

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "1st"
	case Tier2:
		return "2nd"
	case Tier3:
		return "3rd"
	default:
		return "none"
	}
}

// TierStamp is the per-tier audit triple on a request.
type TierStamp struct {
	Approver     string
	ApprovedAt   *time.Time
	ApproverName string
}

// Stamped reports whether both the approver and the date are present.
func (s TierStamp) Stamped() bool {
	return s.Approver != "" && s.ApprovedAt != nil
}

// RequestState is the workflow portion of a customer request.
type RequestState struct {
	Status        Status
	Maker         string
	NextApprover  ApproverSet
	FinalApprover ApproverSet
	Tiers         [3]TierStamp
	Remarks       string
}

// Stamp returns the stamp for tier t.
func (r RequestState) Stamp(t Tier) TierStamp {
	if t < Tier1 || t > Tier3 {
		return TierStamp{}
	}
	return r.Tiers[t-1]
}

// HasSigned reports whether identity already stamped any tier.
func (r RequestState) HasSigned(identity string) bool {
	for _, s := range r.Tiers {
		if s.Stamped() && strings.EqualFold(s.Approver, identity) {
			return true
		}
	}
	return false
}

// MatrixEntry is the approval chain configured for a (request type, company).
type MatrixEntry struct {
	ID                      int64
	RequestType             string
	Company                 string
	Tier1                   ApproverSet
	Tier2                   ApproverSet
	Tier3                   ApproverSet
	ComplianceFinalApprover bool
}

// Approvers returns the list configured for tier t.
func (m MatrixEntry) Approvers(t Tier) ApproverSet {
	switch t {
	case Tier1:
		return m.Tier1
	case Tier2:
		return m.Tier2
	case Tier3:
		return m.Tier3
	default:
		return nil
	}
}

// TierOf returns the first tier listing identity, or TierNone.
func (m MatrixEntry) TierOf(identity string) Tier {
	for _, t := range Tiers {
		if m.Approvers(t).Contains(identity) {
			return t
		}
	}
	return TierNone
}

// Actor is the resolved acting user. It is passed explicitly to every
// engine entry point.
type Actor struct {
	Identity                  string
	DisplayName               string
	Company                   string
	IsDesignatedApprover      bool
	IsComplianceFinalApprover bool
}

// Name returns the display name, or the identity when none is known.
func (a Actor) Name() string {
	if strings.TrimSpace(a.DisplayName) != "" {
		return a.DisplayName
	}
	return a.Identity
}
