package repository

import (
	"context"

	"github.com/pesio-ai/be-ar-carf/internal/platform/database"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
)

// ApproverInboxRepository answers "what is waiting on me" queries against
// the next/final approver hints.
type ApproverInboxRepository struct {
	db *database.DB
}

// NewApproverInboxRepository creates a new ApproverInboxRepository.
func NewApproverInboxRepository(db *database.DB) *ApproverInboxRepository {
	return &ApproverInboxRepository{db: db}
}

// GetPendingForApprover returns PENDING requests whose next or final approver
// hint names identity, newest first. Matching is case-insensitive.
func (r *ApproverInboxRepository) GetPendingForApprover(ctx context.Context, identity string, limit int) ([]*CustomerRequest, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT` + requestColumns + `
		FROM customer_requests
		WHERE approve_status = 'PENDING'
		  AND (
		      EXISTS (SELECT 1 FROM unnest(next_approver) a WHERE lower(a) = lower($1))
		   OR EXISTS (SELECT 1 FROM unnest(final_approver) a WHERE lower(a) = lower($1))
		  )
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, identity, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approver inbox")
	}
	defer rows.Close()

	var requests []*CustomerRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approver inbox")
	}
	return requests, nil
}

// GetByMaker returns the requests raised by maker, newest first.
func (r *ApproverInboxRepository) GetByMaker(ctx context.Context, maker string, limit int) ([]*CustomerRequest, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT` + requestColumns + `
		FROM customer_requests
		WHERE lower(maker) = lower($1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, maker, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get maker requests")
	}
	defer rows.Close()

	var requests []*CustomerRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate maker requests")
	}
	return requests, nil
}
