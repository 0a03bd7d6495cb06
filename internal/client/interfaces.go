package client

import (
	"context"

	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// DirectoryClientInterface resolves an acting identity to its capabilities.
type DirectoryClientInterface interface {
	GetActor(ctx context.Context, identity string) (workflow.Actor, error)
}

// MessengerInterface delivers one notification to one recipient.
type MessengerInterface interface {
	Send(ctx context.Context, recipient string, n *Notification) error
}

// MasterDataClientInterface submits an approved request downstream and
// returns the downstream record reference.
type MasterDataClientInterface interface {
	SubmitRecord(ctx context.Context, record *MasterDataRecord, idempotencyKey string) (string, error)
}
