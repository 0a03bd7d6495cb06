package service

import (
	"context"

	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// Persistence ports. The repository package satisfies each of them; tests
// substitute in-memory fakes.

// RequestStore loads and writes customer requests.
type RequestStore interface {
	Create(ctx context.Context, req *repository.CustomerRequest) error
	GetByID(ctx context.Context, id int64) (*repository.CustomerRequest, error)
	ApplyPatch(ctx context.Context, id, expectedVersion int64, patch repository.RequestPatch) (int64, error)
}

// MatrixStore looks up approval chains.
type MatrixStore interface {
	Lookup(ctx context.Context, requestType, company string) (*workflow.MatrixEntry, error)
	List(ctx context.Context, requestType string) ([]*workflow.MatrixEntry, error)
}

// AuditStore appends and reads the audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByRequestID(ctx context.Context, requestID int64) ([]*repository.AuditEntry, error)
}

// InboxStore answers approver and maker list queries.
type InboxStore interface {
	GetPendingForApprover(ctx context.Context, identity string, limit int) ([]*repository.CustomerRequest, error)
	GetByMaker(ctx context.Context, maker string, limit int) ([]*repository.CustomerRequest, error)
}

// ExecutiveStore lists executive observers.
type ExecutiveStore interface {
	ListActive(ctx context.Context) ([]*repository.ExecutiveObserver, error)
}

// ClassificationStore resolves downstream classification codes.
type ClassificationStore interface {
	GetByRequestType(ctx context.Context, requestType string) (*repository.ClassificationCodes, error)
}

// SubmissionLedger records downstream submission attempts.
type SubmissionLedger interface {
	Begin(ctx context.Context, sub *repository.Submission) error
	Complete(ctx context.Context, id string, succeeded bool, downstreamRef, errMsg string) error
	HasSucceeded(ctx context.Context, requestID int64) (bool, error)
	ListByRequestID(ctx context.Context, requestID int64) ([]*repository.Submission, error)
}
