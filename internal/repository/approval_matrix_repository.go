package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ar-carf/internal/platform/database"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// ApprovalMatrixRepository reads approval_matrix. Rows are maintained by an
// administrative surface; this service never writes them.
type ApprovalMatrixRepository struct {
	db *database.DB
}

// NewApprovalMatrixRepository creates a new ApprovalMatrixRepository.
func NewApprovalMatrixRepository(db *database.DB) *ApprovalMatrixRepository {
	return &ApprovalMatrixRepository{db: db}
}

const matrixColumns = `
	id, request_type, company,
	tier1_approvers, tier2_approvers, tier3_approvers,
	compliance_final_approver`

// Lookup returns the entry for the exact (requestType, company) pair. A
// company-specific row is never merged with an ALL row, and there is no
// fallback between them.
func (r *ApprovalMatrixRepository) Lookup(ctx context.Context, requestType, company string) (*workflow.MatrixEntry, error) {
	query := `SELECT` + matrixColumns + `
		FROM approval_matrix
		WHERE request_type = $1 AND company = $2
	`

	entry, err := r.scanEntry(r.db.QueryRow(ctx, query, requestType, company))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_matrix", fmt.Sprintf("%s/%s", requestType, company))
	}
	return entry, err
}

// List returns every matrix entry, optionally filtered by request type.
func (r *ApprovalMatrixRepository) List(ctx context.Context, requestType string) ([]*workflow.MatrixEntry, error) {
	query := `SELECT` + matrixColumns + `
		FROM approval_matrix
		WHERE ($1 = '' OR request_type = $1)
		ORDER BY request_type ASC, company ASC
	`

	rows, err := r.db.Query(ctx, query, requestType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval matrix")
	}
	defer rows.Close()

	var entries []*workflow.MatrixEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval matrix")
	}
	return entries, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type matrixScanner interface {
	Scan(dest ...any) error
}

// scanEntry normalises the tier columns, which hold either a JSON array or a
// comma-separated list depending on which tool last edited the row.
func (r *ApprovalMatrixRepository) scanEntry(row matrixScanner) (*workflow.MatrixEntry, error) {
	entry := &workflow.MatrixEntry{}
	var tier1, tier2, tier3 string

	err := row.Scan(
		&entry.ID,
		&entry.RequestType,
		&entry.Company,
		&tier1,
		&tier2,
		&tier3,
		&entry.ComplianceFinalApprover,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval matrix entry")
	}

	for _, col := range []struct {
		raw  string
		dest *workflow.ApproverSet
	}{
		{tier1, &entry.Tier1},
		{tier2, &entry.Tier2},
		{tier3, &entry.Tier3},
	} {
		set, err := workflow.ParseApproverSet(col.raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "malformed approver list in approval matrix")
		}
		*col.dest = set
	}
	return entry, nil
}
