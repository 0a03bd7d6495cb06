package handler

import (
	"time"

	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/service"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// JSON shapes returned by the HTTP transport.

type tierView struct {
	Tier         string     `json:"tier"`
	Approver     string     `json:"approver,omitempty"`
	ApproverName string     `json:"approver_name,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
}

type customerView struct {
	CustomerName        string `json:"customer_name"`
	TradeName           string `json:"trade_name,omitempty"`
	TIN                 string `json:"tin"`
	BillingAddress      string `json:"billing_address"`
	ShippingAddress     string `json:"shipping_address,omitempty"`
	City                string `json:"city,omitempty"`
	PostalCode          string `json:"postal_code,omitempty"`
	Country             string `json:"country"`
	ContactPerson       string `json:"contact_person,omitempty"`
	ContactNumber       string `json:"contact_number,omitempty"`
	Email               string `json:"email,omitempty"`
	CreditLimit         string `json:"credit_limit"`
	CreditTerm          string `json:"credit_term"`
	PaymentTerms        string `json:"payment_terms,omitempty"`
	SalesOrg            string `json:"sales_org,omitempty"`
	DistributionChannel string `json:"distribution_channel,omitempty"`
	Division            string `json:"division,omitempty"`
	SalesOffice         string `json:"sales_office,omitempty"`
	SalesGroup          string `json:"sales_group,omitempty"`
}

type requestView struct {
	ID            int64        `json:"id"`
	RequestType   string       `json:"request_type"`
	Company       string       `json:"company"`
	ApproveStatus string       `json:"approve_status"`
	Maker         string       `json:"maker"`
	NextApprover  []string     `json:"next_approver"`
	FinalApprover []string     `json:"final_approver"`
	Tiers         []tierView   `json:"tiers"`
	Remarks       string       `json:"remarks,omitempty"`
	Customer      customerView `json:"customer"`
	Version       int64        `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type actionView struct {
	Request            requestView            `json:"request"`
	Action             string                 `json:"action,omitempty"`
	StampedTier        string                 `json:"stamped_tier,omitempty"`
	BecameFinal        bool                   `json:"became_final"`
	Notified           service.DispatchResult `json:"notified"`
	Submitted          bool                   `json:"submitted"`
	DownstreamRef      string                 `json:"downstream_ref,omitempty"`
	ExecutivesNotified service.DispatchResult `json:"executives_notified"`
	PartialSuccess     bool                   `json:"partial_success"`
	Warnings           []string               `json:"warnings,omitempty"`
}

type matrixView struct {
	ID                      int64    `json:"id"`
	RequestType             string   `json:"request_type"`
	Company                 string   `json:"company"`
	Tier1Approvers          []string `json:"tier1_approvers"`
	Tier2Approvers          []string `json:"tier2_approvers"`
	Tier3Approvers          []string `json:"tier3_approvers"`
	ComplianceFinalApprover bool     `json:"compliance_final_approver"`
}

type auditView struct {
	ID           int64                  `json:"id"`
	Action       string                 `json:"action"`
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	StampedTier  *int                   `json:"stamped_tier,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type submissionView struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	Status         string     `json:"status"`
	DownstreamRef  *string    `json:"downstream_ref,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	AttemptedBy    string     `json:"attempted_by"`
	AttemptedAt    time.Time  `json:"attempted_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toRequestView(r *repository.CustomerRequest) requestView {
	v := requestView{
		ID:            r.ID,
		RequestType:   r.RequestType,
		Company:       r.Company,
		ApproveStatus: string(r.Status),
		Maker:         r.Maker,
		NextApprover:  nonNil(r.NextApprover),
		FinalApprover: nonNil(r.FinalApprover),
		Remarks:       r.Remarks,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Customer: customerView{
			CustomerName:        r.Customer.CustomerName,
			TradeName:           r.Customer.TradeName,
			TIN:                 r.Customer.TIN,
			BillingAddress:      r.Customer.BillingAddress,
			ShippingAddress:     r.Customer.ShippingAddress,
			City:                r.Customer.City,
			PostalCode:          r.Customer.PostalCode,
			Country:             r.Customer.Country,
			ContactPerson:       r.Customer.ContactPerson,
			ContactNumber:       r.Customer.ContactNumber,
			Email:               r.Customer.Email,
			CreditLimit:         r.Customer.CreditLimit.StringFixed(2),
			CreditTerm:          r.Customer.CreditTerm,
			PaymentTerms:        r.Customer.PaymentTerms,
			SalesOrg:            r.Customer.SalesOrg,
			DistributionChannel: r.Customer.DistributionChannel,
			Division:            r.Customer.Division,
			SalesOffice:         r.Customer.SalesOffice,
			SalesGroup:          r.Customer.SalesGroup,
		},
	}
	for _, t := range workflow.Tiers {
		s := r.Stamp(t)
		v.Tiers = append(v.Tiers, tierView{
			Tier:         t.String(),
			Approver:     s.Approver,
			ApproverName: s.ApproverName,
			ApprovedAt:   s.ApprovedAt,
		})
	}
	return v
}

func toActionView(res *service.ActionResult) actionView {
	v := actionView{
		Request:            toRequestView(res.Request),
		Action:             string(res.Transition.Action),
		BecameFinal:        res.Transition.BecameFinal,
		Notified:           res.Notified,
		Submitted:          res.Submitted,
		DownstreamRef:      res.DownstreamRef,
		ExecutivesNotified: res.ExecutivesNotified,
		PartialSuccess:     res.PartialSuccess,
		Warnings:           res.Warnings,
	}
	if res.Transition.StampedTier != workflow.TierNone {
		v.StampedTier = res.Transition.StampedTier.String()
	}
	return v
}

func toMatrixView(m *workflow.MatrixEntry) matrixView {
	return matrixView{
		ID:                      m.ID,
		RequestType:             m.RequestType,
		Company:                 m.Company,
		Tier1Approvers:          nonNil(m.Tier1),
		Tier2Approvers:          nonNil(m.Tier2),
		Tier3Approvers:          nonNil(m.Tier3),
		ComplianceFinalApprover: m.ComplianceFinalApprover,
	}
}

func toAuditViews(entries []*repository.AuditEntry) []auditView {
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView{
			ID:           e.ID,
			Action:       e.Action,
			PerformedBy:  e.PerformedBy,
			PerformedAt:  e.PerformedAt,
			StatusBefore: e.StatusBefore,
			StatusAfter:  e.StatusAfter,
			StampedTier:  e.StampedTier,
			Metadata:     e.Metadata,
		})
	}
	return out
}

func toSubmissionViews(subs []*repository.Submission) []submissionView {
	out := make([]submissionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, submissionView{
			ID:             s.ID,
			IdempotencyKey: s.IdempotencyKey,
			Status:         s.Status,
			DownstreamRef:  s.DownstreamRef,
			ErrorMessage:   s.ErrorMessage,
			AttemptedBy:    s.AttemptedBy,
			AttemptedAt:    s.AttemptedAt,
			CompletedAt:    s.CompletedAt,
		})
	}
	return out
}

func nonNil(s workflow.ApproverSet) []string {
	if s == nil {
		return []string{}
	}
	return []string(s)
}
