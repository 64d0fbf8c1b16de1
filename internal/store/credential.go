package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"autoflow.app/relay/core/db"
	"autoflow.app/relay/internal/model"
)

type credentialStore struct {
	q db.DBTX
}

func newCredentialStore(q db.DBTX) CredentialStore {
	return &credentialStore{q: q}
}

func (s *credentialStore) GetByID(ctx context.Context, id string) (*model.Credential, error) {
	var (
		cred         model.Credential
		providerType string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, owner_id, provider_type, encrypted_blob, created_at, updated_at
		FROM credentials WHERE id = $1`, id).Scan(
		&cred.ID,
		&cred.OwnerID,
		&providerType,
		&cred.EncryptedBlob,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cred.ProviderType = model.ProviderType(providerType)
	return &cred, nil
}

// UpdateBlob overwrites the stored blob. Concurrent refreshes are last-write-wins.
func (s *credentialStore) UpdateBlob(ctx context.Context, id string, blob []byte) error {
	tag, err := s.q.Exec(ctx, `UPDATE credentials SET encrypted_blob = $2, updated_at = now() WHERE id = $1`, id, blob)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
