package store

import (
	"autoflow.app/relay/core/db"
)

type Stores struct {
	q db.DBTX
}

func NewStores(q db.DBTX) *Stores {
	return &Stores{q: q}
}

func (s *Stores) TriggerRegistrations() TriggerRegistrationStore {
	return newTriggerRegistrationStore(s.q)
}

func (s *Stores) Credentials() CredentialStore {
	return newCredentialStore(s.q)
}

func (s *Stores) Subscriptions() ChangeSubscriptionStore {
	return newChangeSubscriptionStore(s.q)
}
