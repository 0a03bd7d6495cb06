package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-ar-carf/internal/client"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/platform/metrics"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// SubmissionGateway maps an approved request into the master-data record
// shape and submits it. It performs no automatic retry.
type SubmissionGateway struct {
	codes      ClassificationStore
	ledger     SubmissionLedger
	masterData client.MasterDataClientInterface
	metrics    *metrics.Collectors
	log        *logger.Logger
}

// NewSubmissionGateway creates a new SubmissionGateway.
func NewSubmissionGateway(
	codes ClassificationStore,
	ledger SubmissionLedger,
	masterData client.MasterDataClientInterface,
	m *metrics.Collectors,
	log *logger.Logger,
) *SubmissionGateway {
	return &SubmissionGateway{
		codes:      codes,
		ledger:     ledger,
		masterData: masterData,
		metrics:    m,
		log:        log,
	}
}

// Submit sends req downstream once and returns the downstream reference.
// The request must already be APPROVED and persisted.
func (g *SubmissionGateway) Submit(ctx context.Context, req *repository.CustomerRequest, attemptedBy string) (string, error) {
	if req.ID == 0 {
		return "", errors.New(errors.ErrCodeInternal, "request has no row reference; refusing to submit")
	}
	if req.Status != workflow.StatusApproved {
		return "", errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("request %d is %s, only APPROVED requests are submitted", req.ID, req.Status))
	}

	codes, err := g.codes.GetByRequestType(ctx, req.RequestType)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return "", errors.Wrap(err, errors.ErrCodeConfiguration,
				fmt.Sprintf("no classification codes for request type %q", req.RequestType))
		}
		return "", err
	}

	record := BuildMasterDataRecord(req, codes)

	sub := &repository.Submission{RequestID: req.ID, AttemptedBy: attemptedBy}
	if err := g.ledger.Begin(ctx, sub); err != nil {
		return "", err
	}

	ref, submitErr := g.masterData.SubmitRecord(ctx, record, sub.IdempotencyKey)
	if submitErr != nil {
		g.metrics.Submissions.WithLabelValues("failed").Inc()
		if err := g.ledger.Complete(ctx, sub.ID, false, "", submitErr.Error()); err != nil {
			g.log.Warn().Err(err).Str("submission_id", sub.ID).Msg("Failed to record submission failure")
		}
		return "", errors.Wrap(submitErr, errors.ErrCodeUnavailable, "downstream submission failed")
	}

	g.metrics.Submissions.WithLabelValues("succeeded").Inc()
	if err := g.ledger.Complete(ctx, sub.ID, true, ref, ""); err != nil {
		g.log.Warn().Err(err).Str("submission_id", sub.ID).Msg("Failed to record submission success")
	}

	g.log.Info().
		Int64("row_ref", req.ID).
		Str("downstream_ref", ref).
		Str("idempotency_key", sub.IdempotencyKey).
		Msg("Customer record submitted downstream")
	return ref, nil
}

// BuildMasterDataRecord maps every business field of req plus its
// classification codes into the downstream record.
func BuildMasterDataRecord(req *repository.CustomerRequest, codes *repository.ClassificationCodes) *client.MasterDataRecord {
	c := req.Customer
	rec := &client.MasterDataRecord{
		RowRef:      req.ID,
		RequestType: req.RequestType,
		Company:     req.Company,
		Maker:       req.Maker,
		ApprovedAt:  approvedAt(req.RequestState, req.UpdatedAt),

		CustomerName:    c.CustomerName,
		TradeName:       c.TradeName,
		TIN:             c.TIN,
		BillingAddress:  c.BillingAddress,
		ShippingAddress: c.ShippingAddress,
		City:            c.City,
		PostalCode:      c.PostalCode,
		Country:         c.Country,
		ContactPerson:   c.ContactPerson,
		ContactNumber:   c.ContactNumber,
		Email:           c.Email,

		CreditLimit:  c.CreditLimit,
		CreditTerm:   c.CreditTerm,
		PaymentTerms: c.PaymentTerms,

		AccountGroup:          codes.AccountGroup,
		CustomerClass:         codes.CustomerClass,
		ReconciliationAccount: codes.ReconciliationAccount,
		PricingProcedure:      codes.PricingProcedure,
		TaxClassification:     codes.TaxClassification,

		SalesOrg:            c.SalesOrg,
		DistributionChannel: c.DistributionChannel,
		Division:            c.Division,
		SalesOffice:         c.SalesOffice,
		SalesGroup:          c.SalesGroup,
	}
	for _, t := range workflow.Tiers {
		if s := req.Stamp(t); s.Stamped() {
			rec.Approvers = append(rec.Approvers, s.Approver)
		}
	}
	return rec
}

// approvedAt is the latest tier stamp, falling back to the row's update time.
func approvedAt(state workflow.RequestState, fallback time.Time) time.Time {
	var latest time.Time
	for _, s := range state.Tiers {
		if s.ApprovedAt != nil && s.ApprovedAt.After(latest) {
			latest = *s.ApprovedAt
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}
