package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ar-carf/internal/platform/database"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
)

// ClassificationRepository reads the per-request-type downstream codes.
type ClassificationRepository struct {
	db *database.DB
}

// NewClassificationRepository creates a new ClassificationRepository.
func NewClassificationRepository(db *database.DB) *ClassificationRepository {
	return &ClassificationRepository{db: db}
}

// GetByRequestType returns the codes for requestType.
func (r *ClassificationRepository) GetByRequestType(ctx context.Context, requestType string) (*ClassificationCodes, error) {
	query := `
		SELECT request_type, account_group, customer_class,
		       reconciliation_account, pricing_procedure, tax_classification
		FROM classification_codes
		WHERE request_type = $1
	`

	c := &ClassificationCodes{}
	err := r.db.QueryRow(ctx, query, requestType).Scan(
		&c.RequestType,
		&c.AccountGroup,
		&c.CustomerClass,
		&c.ReconciliationAccount,
		&c.PricingProcedure,
		&c.TaxClassification,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("classification_codes", requestType)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get classification codes")
	}
	return c, nil
}
