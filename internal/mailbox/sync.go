// Package mailbox turns mailbox push notifications into execution starts. A
// subscription's cursor records how much provider history has been consumed;
// it moves forward once per notification, after the history fetch succeeds,
// regardless of how many of the fetched items dispatched.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/credential"
	"autoflow.app/relay/internal/dedup"
	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/store"
)

// Credentials resolves the tokens and identities behind subscriptions.
type Credentials interface {
	BoundAccount(ctx context.Context, credentialID, ownerID string) (string, error)
	Resolve(ctx context.Context, credentialID, ownerID string) (*credential.ActiveToken, error)
}

// StoreProvider mirrors service.StoreProvider - defined here to avoid import cycles.
type StoreProvider interface {
	Subscriptions() store.ChangeSubscriptionStore
}

// TxRunner mirrors service.TxRunner - defined here to avoid import cycles.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type SyncerConfig struct {
	// Concurrency bounds in-flight message fetches per subscription.
	Concurrency int
}

type Syncer struct {
	subs       store.ChangeSubscriptionStore
	txRunner   TxRunner
	creds      Credentials
	client     Client
	dispatcher dispatch.Dispatcher
	now        func() time.Time
	cfg        SyncerConfig
}

func NewSyncer(subs store.ChangeSubscriptionStore, txRunner TxRunner, creds Credentials, client Client, dispatcher dispatch.Dispatcher, cfg SyncerConfig) *Syncer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Syncer{
		subs:       subs,
		txRunner:   txRunner,
		creds:      creds,
		client:     client,
		dispatcher: dispatcher,
		now:        time.Now,
		cfg:        cfg,
	}
}

// SubscriptionResult summarizes one subscription's processing.
type SubscriptionResult struct {
	Err            error
	Cursor         string
	SubscriptionID int64
	Items          int
	Dispatched     int
	Failed         int
	Advanced       bool
}

// Report summarizes a notification. Only subscriptions bound to the notified
// account appear in it.
type Report struct {
	Subscriptions []SubscriptionResult
}

// HandleNotification processes every active subscription bound to the
// notified account. Per-subscription failures are recorded in the report and
// never stop the other subscriptions; the returned error covers only the
// subscription lookup itself.
func (s *Syncer) HandleNotification(ctx context.Context, n Notification) (*Report, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:  logger.Ptr(string(model.ProviderMailbox)),
		Component: "relay.mailbox.sync",
	})

	subs, err := s.subs.ListActive(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}

	report := &Report{}
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		// ListActive already filters, but the clock may have moved since.
		if !sub.Active(s.now()) {
			continue
		}

		subCtx := logger.WithLogFields(ctx, logger.LogFields{
			SubscriptionID: &sub.ID,
			WorkflowID:     &sub.WorkflowID,
		})

		account, err := s.creds.BoundAccount(subCtx, sub.CredentialID, sub.OwnerID)
		if err != nil {
			if credential.IsCredentialError(err) {
				slog.WarnContext(subCtx, "skipping subscription with unusable credential", "error", err)
				continue
			}
			// The subscription may belong to this account; report it so the
			// missed notification is visible.
			slog.ErrorContext(subCtx, "failed to resolve subscription account", "error", err)
			report.Subscriptions = append(report.Subscriptions, SubscriptionResult{SubscriptionID: sub.ID, Err: err})
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(account), n.EmailAddress) {
			continue
		}

		result := s.syncSubscription(subCtx, sub, n)
		report.Subscriptions = append(report.Subscriptions, result)
	}

	return report, nil
}

func (s *Syncer) syncSubscription(ctx context.Context, sub model.ChangeSubscription, n Notification) SubscriptionResult {
	sc := logger.StartSpan(ctx, "mailbox.sync_subscription")
	defer sc.End()
	ctx = sc.Context()

	result := SubscriptionResult{SubscriptionID: sub.ID}

	token, err := s.creds.Resolve(ctx, sub.CredentialID, sub.OwnerID)
	if err != nil {
		slog.WarnContext(ctx, "abandoning subscription: credential unavailable", "error", err)
		result.Err = err
		return result
	}

	// A subscription that has never synced has no cursor to read from; it
	// starts at the notification and only sees later items.
	if sub.LastCursor == "" {
		result.Cursor = n.HistoryID
		result.Advanced, result.Err = s.advance(ctx, sub.ID, n.HistoryID)
		return result
	}

	history, err := s.client.ListHistory(ctx, token.AccessToken, sub.LastCursor)
	if err != nil {
		sc.RecordError(err)
		slog.WarnContext(ctx, "abandoning subscription: history fetch failed", "error", err, "cursor", sub.LastCursor)
		result.Err = err
		return result
	}

	items := filterByLabels(uniqueItems(history.Items), sub.ScopeLabels)
	result.Items = len(items)

	dispatched, failed, complete := s.dispatchItems(ctx, sub, token.AccessToken, items)
	result.Dispatched = dispatched
	result.Failed = failed

	if !complete {
		result.Err = fmt.Errorf("cancelled before all items were attempted: %w", context.Cause(ctx))
		slog.WarnContext(ctx, "not advancing cursor: batch interrupted", "attempted", dispatched+failed, "items", len(items))
		return result
	}

	cursor := history.Cursor
	if cursor == "" {
		cursor = n.HistoryID
	}
	result.Cursor = cursor
	result.Advanced, result.Err = s.advance(ctx, sub.ID, cursor)

	slog.InfoContext(ctx, "mailbox subscription synced",
		"items", len(items),
		"dispatched", dispatched,
		"failed", failed,
		"cursor", cursor,
		"advanced", result.Advanced)
	return result
}

// dispatchItems fetches and dispatches items with bounded concurrency. A
// failing item is logged and counted; it never cancels its siblings. complete
// is false when the context was cancelled during the batch.
func (s *Syncer) dispatchItems(ctx context.Context, sub model.ChangeSubscription, accessToken string, items []HistoryItem) (dispatched, failed int, complete bool) {
	var (
		g               errgroup.Group
		okCount, errCnt atomic.Int64
		skipped         atomic.Int64
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			if err := s.dispatchItem(ctx, sub, accessToken, item); err != nil {
				errCnt.Add(1)
				slog.WarnContext(ctx, "mailbox item skipped", "error", err, "item_id", item.ID)
				return nil
			}
			okCount.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(okCount.Load()), int(errCnt.Load()), skipped.Load() == 0 && ctx.Err() == nil
}

func (s *Syncer) dispatchItem(ctx context.Context, sub model.ChangeSubscription, accessToken string, item HistoryItem) error {
	msg, err := s.client.GetMessage(ctx, accessToken, item.ID)
	if err != nil {
		return err
	}

	event := model.InboundEvent{
		Provider:    model.ProviderMailbox,
		EventID:     msg.ID,
		SenderID:    msg.From,
		RecipientID: msg.To,
		ChannelID:   msg.ThreadID,
		Text:        strings.TrimSpace(msg.Subject + "\n" + msg.Snippet),
		Timestamp:   msg.ReceivedAt,
		Raw:         msg.Raw,
	}
	key := dedup.DeriveKey(sub.WorkflowID, map[string]any{"messageId": msg.ID}, msg.Raw)

	payload := map[string]any{
		"provider":       model.ProviderMailbox,
		"event":          event,
		"subscriptionId": sub.ID,
		"message":        msg,
	}
	if _, err := s.dispatcher.Dispatch(ctx, sub.WorkflowID, key, payload); err != nil {
		return err
	}
	return nil
}

// advance moves the cursor forward under a row lock. A cursor that is not
// ahead of the stored one is left alone.
func (s *Syncer) advance(ctx context.Context, subscriptionID int64, cursor string) (bool, error) {
	if cursor == "" {
		return false, nil
	}

	advanced := false
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		current, err := stores.Subscriptions().GetForUpdate(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("locking subscription: %w", err)
		}
		if !model.CursorAfter(cursor, current.LastCursor) {
			return nil
		}
		if err := stores.Subscriptions().UpdateCursor(ctx, subscriptionID, cursor); err != nil {
			return fmt.Errorf("updating cursor: %w", err)
		}
		advanced = true
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "cursor advance failed", "error", err, "cursor", cursor)
		return false, err
	}
	return advanced, nil
}

// uniqueItems collapses repeated ids, keeping the first occurrence.
func uniqueItems(items []HistoryItem) []HistoryItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]HistoryItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

func filterByLabels(items []HistoryItem, labels []string) []HistoryItem {
	if len(labels) == 0 {
		return items
	}
	var out []HistoryItem
	for _, item := range items {
		for _, l := range item.LabelIDs {
			if slices.Contains(labels, l) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// IsAbandoned reports whether a subscription result left the cursor untouched
// because of a failure.
func (r SubscriptionResult) IsAbandoned() bool {
	return r.Err != nil && !r.Advanced
}
