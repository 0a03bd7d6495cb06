package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ar-carf/internal/platform/database"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// CustomerRequestRepository handles customer_requests rows.
type CustomerRequestRepository struct {
	db *database.DB
}

// NewCustomerRequestRepository creates a new customer request repository.
func NewCustomerRequestRepository(db *database.DB) *CustomerRequestRepository {
	return &CustomerRequestRepository{db: db}
}

const requestColumns = `
	id, request_type, company, approve_status, maker,
	next_approver, final_approver,
	tier1_approver, tier1_approve_date, COALESCE(tier1_approver_name, ''),
	tier2_approver, tier2_approve_date, COALESCE(tier2_approver_name, ''),
	tier3_approver, tier3_approve_date, COALESCE(tier3_approver_name, ''),
	COALESCE(remarks, ''),
	customer_name, COALESCE(trade_name, ''), tin, billing_address,
	COALESCE(shipping_address, ''), COALESCE(city, ''), COALESCE(postal_code, ''), country,
	COALESCE(contact_person, ''), COALESCE(contact_number, ''), COALESCE(email, ''),
	credit_limit::text, COALESCE(credit_term, ''), COALESCE(payment_terms, ''),
	COALESCE(sales_org, ''), COALESCE(distribution_channel, ''), COALESCE(division, ''),
	COALESCE(sales_office, ''), COALESCE(sales_group, ''),
	version, created_at, updated_at`

// Create inserts a new request in its initial workflow state.
func (r *CustomerRequestRepository) Create(ctx context.Context, req *CustomerRequest) error {
	query := `
		INSERT INTO customer_requests
		    (request_type, company, approve_status, maker,
		     next_approver, final_approver,
		     customer_name, trade_name, tin, billing_address,
		     shipping_address, city, postal_code, country,
		     contact_person, contact_number, email,
		     credit_limit, credit_term, payment_terms,
		     sales_org, distribution_channel, division, sales_office, sales_group)
		VALUES ($1, $2, $3, $4,
		        $5, $6,
		        $7, NULLIF($8, ''), $9, $10,
		        NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14,
		        NULLIF($15, ''), NULLIF($16, ''), NULLIF($17, ''),
		        $18::numeric, NULLIF($19, ''), NULLIF($20, ''),
		        NULLIF($21, ''), NULLIF($22, ''), NULLIF($23, ''), NULLIF($24, ''), NULLIF($25, ''))
		RETURNING id, version, created_at, updated_at
	`

	c := req.Customer
	err := r.db.QueryRow(ctx, query,
		req.RequestType,
		req.Company,
		string(req.Status),
		req.Maker,
		toTextArray(req.NextApprover),
		toTextArray(req.FinalApprover),
		c.CustomerName, c.TradeName, c.TIN, c.BillingAddress,
		c.ShippingAddress, c.City, c.PostalCode, c.Country,
		c.ContactPerson, c.ContactNumber, c.Email,
		c.CreditLimit.String(), c.CreditTerm, c.PaymentTerms,
		c.SalesOrg, c.DistributionChannel, c.Division, c.SalesOffice, c.SalesGroup,
	).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create customer request")
	}
	return nil
}

// GetByID retrieves a request by its row reference.
func (r *CustomerRequestRepository) GetByID(ctx context.Context, id int64) (*CustomerRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM customer_requests
		WHERE id = $1
	`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("customer_request", strconv.FormatInt(id, 10))
	}
	return req, err
}

// ApplyPatch writes a transition only if the row still carries
// expectedVersion, and returns the new version. A concurrent writer makes
// the update miss and yields ErrCodeStaleState.
func (r *CustomerRequestRepository) ApplyPatch(ctx context.Context, id, expectedVersion int64, patch RequestPatch) (int64, error) {
	sets := []string{
		"approve_status = $3",
		"next_approver = $4",
		"final_approver = $5",
	}
	args := []any{
		id,
		expectedVersion,
		string(patch.Status),
		toTextArray(patch.NextApprover),
		toTextArray(patch.FinalApprover),
	}

	if patch.StampedTier != workflow.TierNone {
		n := int(patch.StampedTier)
		// Approver and date are always written together.
		sets = append(sets,
			fmt.Sprintf("tier%d_approver = $%d", n, len(args)+1),
			fmt.Sprintf("tier%d_approve_date = $%d", n, len(args)+2),
			fmt.Sprintf("tier%d_approver_name = $%d", n, len(args)+3),
		)
		args = append(args, patch.Stamp.Approver, patch.Stamp.ApprovedAt, patch.Stamp.ApproverName)
	}
	if patch.Remarks != nil {
		sets = append(sets, fmt.Sprintf("remarks = $%d", len(args)+1))
		args = append(args, *patch.Remarks)
	}

	query := `
		UPDATE customer_requests
		SET ` + strings.Join(sets, ",\n\t\t    ") + `,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	var version int64
	err := r.db.QueryRow(ctx, query, args...).Scan(&version)
	if err == pgx.ErrNoRows {
		return 0, r.missReason(ctx, id)
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to update customer request")
	}
	return version, nil
}

// missReason distinguishes a deleted row from a lost version race.
func (r *CustomerRequestRepository) missReason(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customer_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check customer request")
	}
	if !exists {
		return errors.NotFound("customer_request", strconv.FormatInt(id, 10))
	}
	return errors.New(errors.ErrCodeStaleState, "stale state, retry: request was changed by another approver")
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*CustomerRequest, error) {
	req := &CustomerRequest{}
	var (
		status, creditLimit string
		next, final         []string
		approvers           [3]*string
		dates               [3]*time.Time
		names               [3]string
	)

	c := &req.Customer
	err := row.Scan(
		&req.ID,
		&req.RequestType,
		&req.Company,
		&status,
		&req.Maker,
		&next,
		&final,
		&approvers[0], &dates[0], &names[0],
		&approvers[1], &dates[1], &names[1],
		&approvers[2], &dates[2], &names[2],
		&req.Remarks,
		&c.CustomerName, &c.TradeName, &c.TIN, &c.BillingAddress,
		&c.ShippingAddress, &c.City, &c.PostalCode, &c.Country,
		&c.ContactPerson, &c.ContactNumber, &c.Email,
		&creditLimit, &c.CreditTerm, &c.PaymentTerms,
		&c.SalesOrg, &c.DistributionChannel, &c.Division,
		&c.SalesOffice, &c.SalesGroup,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan customer request")
	}

	req.Status = workflow.Status(status)
	req.NextApprover = workflow.NewApproverSet(next...)
	req.FinalApprover = workflow.NewApproverSet(final...)
	for i := range req.Tiers {
		if approvers[i] != nil {
			req.Tiers[i].Approver = *approvers[i]
		}
		req.Tiers[i].ApprovedAt = dates[i]
		req.Tiers[i].ApproverName = names[i]
	}

	limit, err := decimal.NewFromString(creditLimit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse credit limit")
	}
	c.CreditLimit = limit
	return req, nil
}

func toTextArray(set workflow.ApproverSet) []string {
	if set == nil {
		return []string{}
	}
	return []string(set)
}
