package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// ── Domain types for the customer activation workflow ────────────────────────

// CustomerRequest is a customer activation request (CARF) row. The
// workflow fields are embedded; the ID is the immutable row reference.
type CustomerRequest struct {
	ID          int64
	RequestType string
	Company     string
	workflow.RequestState
	Customer  CustomerDetails
	Version   int64 // optimistic-concurrency token, bumped on every transition
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerDetails holds the business fields mapped to the master-data record.
type CustomerDetails struct {
	CustomerName        string
	TradeName           string
	TIN                 string
	BillingAddress      string
	ShippingAddress     string
	City                string
	PostalCode          string
	Country             string
	ContactPerson       string
	ContactNumber       string
	Email               string
	CreditLimit         decimal.Decimal
	CreditTerm          string
	PaymentTerms        string
	SalesOrg            string
	DistributionChannel string
	Division            string
	SalesOffice         string
	SalesGroup          string
}

// RequestPatch is the partial update written by one transition.
type RequestPatch struct {
	Status        workflow.Status
	NextApprover  workflow.ApproverSet
	FinalApprover workflow.ApproverSet
	StampedTier   workflow.Tier // TierNone leaves every tier column untouched
	Stamp         workflow.TierStamp
	Remarks       *string
}

// PatchFromTransition converts an engine transition into a row patch.
func PatchFromTransition(tr workflow.Transition) RequestPatch {
	patch := RequestPatch{
		Status:        tr.Status,
		NextApprover:  tr.NextApprover,
		FinalApprover: tr.FinalApprover,
		StampedTier:   tr.StampedTier,
		Stamp:         tr.Stamp,
	}
	if tr.Action == workflow.ActionReturn || tr.Action == workflow.ActionReturnToMaker {
		remarks := tr.Remarks
		patch.Remarks = &remarks
	}
	return patch
}

// ExecutiveObserver receives a notice after a request reaches the
// master-data system. Company may be workflow.AllCompanies.
type ExecutiveObserver struct {
	ID                    int64
	Identity              string
	Company               string
	HomeCompany           string   // the executive's own company
	ExceptionRequestTypes []string // request types that gate or widen the match
	IsActive              bool
}

// ClassificationCodes are the downstream codes resolved per request type.
type ClassificationCodes struct {
	RequestType           string
	AccountGroup          string
	CustomerClass         string
	ReconciliationAccount string
	PricingProcedure      string
	TaxClassification     string
}

// AuditEntry is one immutable record in the request audit log.
type AuditEntry struct {
	ID           int64
	RequestID    int64
	Action       string // submitted | approved | cancelled | returned | returned_to_maker | downstream_submitted
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	StampedTier  *int
	Metadata     map[string]interface{}
}

// Submission statuses in the downstream ledger.
const (
	SubmissionPending   = "pending"
	SubmissionSucceeded = "succeeded"
	SubmissionFailed    = "failed"
)

// Submission is one downstream submission attempt.
type Submission struct {
	ID             string
	RequestID      int64
	IdempotencyKey string
	Status         string
	DownstreamRef  *string
	ErrorMessage   *string
	AttemptedBy    string
	AttemptedAt    time.Time
	CompletedAt    *time.Time
}
