package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ar-carf/internal/platform/database"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
)

// SubmissionLedgerRepository records downstream submission attempts so a
// request reaches the master-data system at most once.
type SubmissionLedgerRepository struct {
	db *database.DB
}

// NewSubmissionLedgerRepository creates a new SubmissionLedgerRepository.
func NewSubmissionLedgerRepository(db *database.DB) *SubmissionLedgerRepository {
	return &SubmissionLedgerRepository{db: db}
}

// IdempotencyKey is the key sent downstream for a request. It is stable
// across retries.
func IdempotencyKey(requestID int64) string {
	return fmt.Sprintf("carf-%d", requestID)
}

// Begin claims the request for one attempt. It is refused with a conflict
// while another attempt is pending or once one has succeeded.
func (r *SubmissionLedgerRepository) Begin(ctx context.Context, sub *Submission) error {
	sub.ID = uuid.New().String()
	sub.Status = SubmissionPending
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = IdempotencyKey(sub.RequestID)
	}

	query := `
		INSERT INTO downstream_submissions
		    (id, request_id, idempotency_key, status, attempted_by)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
		    SELECT 1 FROM downstream_submissions
		    WHERE request_id = $2 AND status IN ('pending', 'succeeded')
		)
		RETURNING attempted_at
	`

	err := r.db.QueryRow(ctx, query,
		sub.ID,
		sub.RequestID,
		sub.IdempotencyKey,
		sub.Status,
		sub.AttemptedBy,
	).Scan(&sub.AttemptedAt)
	if err != nil {
		// The partial unique index catches two claims racing past NOT EXISTS.
		if err == pgx.ErrNoRows || database.IsUniqueViolation(err) {
			return errors.New(errors.ErrCodeConflict, "a downstream submission is already in progress or done")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record submission attempt")
	}
	return nil
}

// Complete closes an attempt as succeeded (with the downstream reference)
// or failed (with the error message).
func (r *SubmissionLedgerRepository) Complete(ctx context.Context, id string, succeeded bool, downstreamRef, errMsg string) error {
	status := SubmissionFailed
	if succeeded {
		status = SubmissionSucceeded
	}

	query := `
		UPDATE downstream_submissions
		SET status         = $2,
		    downstream_ref = NULLIF($3, ''),
		    error_message  = NULLIF($4, ''),
		    completed_at   = $5
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id, status, downstreamRef, errMsg, time.Now().UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.New(errors.ErrCodeConflict, "request already submitted downstream")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to complete submission attempt")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("downstream_submission", id)
	}
	return nil
}

// HasSucceeded reports whether the request already has a successful submission.
func (r *SubmissionLedgerRepository) HasSucceeded(ctx context.Context, requestID int64) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
		    SELECT 1 FROM downstream_submissions
		    WHERE request_id = $1 AND status = 'succeeded'
		)
	`
	if err := r.db.QueryRow(ctx, query, requestID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check submission ledger")
	}
	return exists, nil
}

// ListByRequestID returns every attempt for a request, oldest first.
func (r *SubmissionLedgerRepository) ListByRequestID(ctx context.Context, requestID int64) ([]*Submission, error) {
	query := `
		SELECT id::text, request_id, idempotency_key, status,
		       downstream_ref, error_message,
		       attempted_by, attempted_at, completed_at
		FROM downstream_submissions
		WHERE request_id = $1
		ORDER BY attempted_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list submissions")
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Submission, error) {
		sub := &Submission{}
		err := row.Scan(
			&sub.ID,
			&sub.RequestID,
			&sub.IdempotencyKey,
			&sub.Status,
			&sub.DownstreamRef,
			&sub.ErrorMessage,
			&sub.AttemptedBy,
			&sub.AttemptedAt,
			&sub.CompletedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan submission")
		}
		return sub, nil
	})
}
