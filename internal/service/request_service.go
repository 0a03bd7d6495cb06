package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// RequestService handles request creation and the read side: request
// detail, timeline, inbox, history and submission attempts.
type RequestService struct {
	requests   RequestStore
	matrix     MatrixStore
	audit      AuditStore
	inbox      InboxStore
	ledger     SubmissionLedger
	dispatcher *NotificationDispatcher
	validate   *validator.Validate
	log        *logger.Logger
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewRequestService creates a new request service
func NewRequestService(
	requests RequestStore,
	matrix MatrixStore,
	audit AuditStore,
	inbox InboxStore,
	ledger SubmissionLedger,
	dispatcher *NotificationDispatcher,
	log *logger.Logger,
) *RequestService {
	return &RequestService{
		requests:   requests,
		matrix:     matrix,
		audit:      audit,
		inbox:      inbox,
		ledger:     ledger,
		dispatcher: dispatcher,
		validate:   newValidator(),
		log:        log,
	}
}

// CreateRequestInput represents a maker's submission.
type CreateRequestInput struct {
	RequestType string `json:"request_type" validate:"required,max=64"`
	Company     string `json:"company" validate:"required,max=64"`

	// HasRequiredAttachments is owned by the upload surface and taken as given.
	HasRequiredAttachments bool `json:"has_required_attachments"`

	CustomerName        string `json:"customer_name" validate:"required,max=255"`
	TradeName           string `json:"trade_name" validate:"max=255"`
	TIN                 string `json:"tin" validate:"required,max=32"`
	BillingAddress      string `json:"billing_address" validate:"required"`
	ShippingAddress     string `json:"shipping_address"`
	City                string `json:"city" validate:"max=128"`
	PostalCode          string `json:"postal_code" validate:"max=16"`
	Country             string `json:"country" validate:"required,max=64"`
	ContactPerson       string `json:"contact_person" validate:"max=255"`
	ContactNumber       string `json:"contact_number" validate:"max=64"`
	Email               string `json:"email" validate:"omitempty,email"`
	CreditLimit         string `json:"credit_limit" validate:"required"`
	CreditTerm          string `json:"credit_term" validate:"required,max=32"`
	PaymentTerms        string `json:"payment_terms" validate:"max=32"`
	SalesOrg            string `json:"sales_org" validate:"max=16"`
	DistributionChannel string `json:"distribution_channel" validate:"max=16"`
	Division            string `json:"division" validate:"max=16"`
	SalesOffice         string `json:"sales_office" validate:"max=16"`
	SalesGroup          string `json:"sales_group" validate:"max=16"`
}

// CreateRequest persists a new PENDING request and notifies tier 1.
func (s *RequestService) CreateRequest(ctx context.Context, maker workflow.Actor, in *CreateRequestInput) (*ActionResult, error) {
	if strings.TrimSpace(maker.Identity) == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "maker identity is required")
	}
	if !in.HasRequiredAttachments {
		return nil, errors.InvalidInput("attachments", "required attachments are missing")
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	creditLimit, err := decimal.NewFromString(strings.TrimSpace(in.CreditLimit))
	if err != nil {
		return nil, errors.InvalidInput("credit_limit", "must be a decimal amount")
	}
	if creditLimit.IsNegative() {
		return nil, errors.InvalidInput("credit_limit", "must not be negative")
	}

	matrix, err := s.matrix.Lookup(ctx, in.RequestType, in.Company)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, errors.Wrap(err, errors.ErrCodeConfiguration,
				fmt.Sprintf("no approval matrix for request type %q and company %q", in.RequestType, in.Company))
		}
		return nil, err
	}
	if matrix.Tier1.IsEmpty() {
		return nil, errors.New(errors.ErrCodeConfiguration,
			fmt.Sprintf("approval matrix for %s/%s has no tier-1 approvers", in.RequestType, in.Company))
	}

	state, tr := workflow.Open(*matrix, maker.Identity)
	req := &repository.CustomerRequest{
		RequestType:  in.RequestType,
		Company:      in.Company,
		RequestState: state,
		Customer: repository.CustomerDetails{
			CustomerName:        in.CustomerName,
			TradeName:           in.TradeName,
			TIN:                 in.TIN,
			BillingAddress:      in.BillingAddress,
			ShippingAddress:     in.ShippingAddress,
			City:                in.City,
			PostalCode:          in.PostalCode,
			Country:             in.Country,
			ContactPerson:       in.ContactPerson,
			ContactNumber:       in.ContactNumber,
			Email:               in.Email,
			CreditLimit:         creditLimit,
			CreditTerm:          in.CreditTerm,
			PaymentTerms:        in.PaymentTerms,
			SalesOrg:            in.SalesOrg,
			DistributionChannel: in.DistributionChannel,
			Division:            in.Division,
			SalesOffice:         in.SalesOffice,
			SalesGroup:          in.SalesGroup,
		},
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("row_ref", req.ID).
		Str("request_type", req.RequestType).
		Str("company", req.Company).
		Str("maker", req.Maker).
		Msg("Customer request submitted")

	after := string(workflow.StatusPending)
	if err := s.audit.Append(ctx, &repository.AuditEntry{
		RequestID:   req.ID,
		Action:      string(workflow.ActionSubmit),
		PerformedBy: maker.Identity,
		StatusAfter: &after,
		Metadata:    map[string]interface{}{"next_approver": req.NextApprover.String()},
	}); err != nil {
		s.log.Warn().Err(err).Int64("row_ref", req.ID).Msg("Failed to write audit log entry")
	}

	result := &ActionResult{Request: req, Transition: tr}
	result.Notified = s.dispatcher.Notify(ctx, req, tr, maker.Identity)
	if !result.Notified.OK() {
		result.warn(WarnNotification)
	}
	return result, nil
}

// GetRequest returns one request.
func (s *RequestService) GetRequest(ctx context.Context, rowRef int64) (*repository.CustomerRequest, error) {
	return s.requests.GetByID(ctx, rowRef)
}

// Timeline projects the four-step display timeline of a request.
func (s *RequestService) Timeline(ctx context.Context, rowRef int64) (workflow.Timeline, error) {
	req, err := s.requests.GetByID(ctx, rowRef)
	if err != nil {
		return workflow.Timeline{}, err
	}
	submitted := req.CreatedAt
	return workflow.Project(req.RequestState, &submitted), nil
}

// Inbox returns the pending requests waiting on identity.
func (s *RequestService) Inbox(ctx context.Context, identity string, limit int) ([]*repository.CustomerRequest, error) {
	return s.inbox.GetPendingForApprover(ctx, identity, limit)
}

// MyRequests returns the requests raised by maker.
func (s *RequestService) MyRequests(ctx context.Context, maker string, limit int) ([]*repository.CustomerRequest, error) {
	return s.inbox.GetByMaker(ctx, maker, limit)
}

// History returns the audit trail for a request.
func (s *RequestService) History(ctx context.Context, rowRef int64) ([]*repository.AuditEntry, error) {
	if _, err := s.requests.GetByID(ctx, rowRef); err != nil {
		return nil, err
	}
	return s.audit.GetByRequestID(ctx, rowRef)
}

// Submissions returns the downstream submission attempts for a request.
func (s *RequestService) Submissions(ctx context.Context, rowRef int64) ([]*repository.Submission, error) {
	if _, err := s.requests.GetByID(ctx, rowRef); err != nil {
		return nil, err
	}
	return s.ledger.ListByRequestID(ctx, rowRef)
}

// LookupMatrix returns the approval chain for a request type and company.
func (s *RequestService) LookupMatrix(ctx context.Context, requestType, company string) (*workflow.MatrixEntry, error) {
	return s.matrix.Lookup(ctx, requestType, company)
}

// ListMatrix returns every configured chain, optionally for one request type.
func (s *RequestService) ListMatrix(ctx context.Context, requestType string) ([]*workflow.MatrixEntry, error) {
	return s.matrix.List(ctx, requestType)
}

// validationError reports the first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.InvalidInput(fe.Field(), fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request")
}
