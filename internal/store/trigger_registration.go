package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"autoflow.app/relay/core/db"
	"autoflow.app/relay/internal/model"
)

const registrationColumns = `id, workflow_id, node_id, provider_type, owner_id, configuration, schema_version, created_at, updated_at`

type triggerRegistrationStore struct {
	q db.DBTX
}

func newTriggerRegistrationStore(q db.DBTX) TriggerRegistrationStore {
	return &triggerRegistrationStore{q: q}
}

func (s *triggerRegistrationStore) ListByProvider(ctx context.Context, providers ...model.ProviderType) ([]model.TriggerRegistration, error) {
	if len(providers) == 0 {
		return nil, nil
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p)
	}
	rows, err := s.q.Query(ctx, `SELECT `+registrationColumns+` FROM trigger_registrations WHERE provider_type = ANY($1) ORDER BY id`, names)
	if err != nil {
		return nil, err
	}
	return collectRegistrations(rows)
}

func (s *triggerRegistrationStore) ListByWorkflow(ctx context.Context, workflowID string, provider model.ProviderType) ([]model.TriggerRegistration, error) {
	rows, err := s.q.Query(ctx, `SELECT `+registrationColumns+` FROM trigger_registrations WHERE workflow_id = $1 AND provider_type = $2 ORDER BY id`, workflowID, string(provider))
	if err != nil {
		return nil, err
	}
	return collectRegistrations(rows)
}

func collectRegistrations(rows pgx.Rows) ([]model.TriggerRegistration, error) {
	defer rows.Close()
	var result []model.TriggerRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *reg)
	}
	return result, rows.Err()
}

func scanRegistration(row pgx.Row) (*model.TriggerRegistration, error) {
	var (
		reg           model.TriggerRegistration
		providerType  string
		schemaVersion string
		configuration []byte
	)
	if err := row.Scan(
		&reg.ID,
		&reg.WorkflowID,
		&reg.NodeID,
		&providerType,
		&reg.OwnerID,
		&configuration,
		&schemaVersion,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	reg.ProviderType = model.ProviderType(providerType)
	reg.SchemaVersion = model.SchemaVersion(schemaVersion)
	reg.Configuration = configuration
	return &reg, nil
}
