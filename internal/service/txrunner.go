package service

import (
	"context"

	"autoflow.app/relay/core/db"
	"autoflow.app/relay/internal/mailbox"
	"autoflow.app/relay/internal/store"
)

// StoreProvider exposes only the stores needed by a transactional operation.
type StoreProvider interface {
	TriggerRegistrations() store.TriggerRegistrationStore
	Credentials() store.CredentialStore
	Subscriptions() store.ChangeSubscriptionStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.DBTX) error {
		stores := store.NewStores(q)
		return fn(stores)
	})
}

// mailboxTxRunner bridges TxRunner to mailbox.TxRunner.
type mailboxTxRunner struct {
	tx TxRunner
}

// MailboxTxRunner adapts tx for the mailbox syncer.
func MailboxTxRunner(tx TxRunner) mailbox.TxRunner {
	return &mailboxTxRunner{tx: tx}
}

func (a *mailboxTxRunner) WithTx(ctx context.Context, fn func(stores mailbox.StoreProvider) error) error {
	return a.tx.WithTx(ctx, func(stores StoreProvider) error {
		return fn(stores)
	})
}
