package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ar-carf/internal/platform/database"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
)

// ExecutiveRepository reads executive_observers.
type ExecutiveRepository struct {
	db *database.DB
}

// NewExecutiveRepository creates a new ExecutiveRepository.
func NewExecutiveRepository(db *database.DB) *ExecutiveRepository {
	return &ExecutiveRepository{db: db}
}

// ListActive returns every active executive. Matching against a request is
// done by the service layer.
func (r *ExecutiveRepository) ListActive(ctx context.Context) ([]*ExecutiveObserver, error) {
	query := `
		SELECT id, identity, company, home_company,
		       exception_request_types, is_active
		FROM executive_observers
		WHERE is_active = TRUE
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list executives")
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*ExecutiveObserver, error) {
		e := &ExecutiveObserver{}
		if err := row.Scan(
			&e.ID,
			&e.Identity,
			&e.Company,
			&e.HomeCompany,
			&e.ExceptionRequestTypes,
			&e.IsActive,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan executive")
		}
		return e, nil
	})
}
