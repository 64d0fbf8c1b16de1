package store

import (
	"context"
	"errors"
	"time"

	"autoflow.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// TriggerRegistrationStore is read-only: registrations are owned by the editor API.
type TriggerRegistrationStore interface {
	ListByProvider(ctx context.Context, providers ...model.ProviderType) ([]model.TriggerRegistration, error)
	ListByWorkflow(ctx context.Context, workflowID string, provider model.ProviderType) ([]model.TriggerRegistration, error)
}

// CredentialStore exposes the encrypted credential blobs.
type CredentialStore interface {
	GetByID(ctx context.Context, id string) (*model.Credential, error)
	UpdateBlob(ctx context.Context, id string, blob []byte) error
}

// ChangeSubscriptionStore persists mailbox history cursors.
type ChangeSubscriptionStore interface {
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*model.ChangeSubscription, error)
	ListActive(ctx context.Context, now time.Time) ([]model.ChangeSubscription, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]model.ChangeSubscription, error)
	UpdateCursor(ctx context.Context, id int64, cursor string) error
	UpdateExpiry(ctx context.Context, id int64, expiresAt time.Time) error
}
