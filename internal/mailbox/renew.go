package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/store"
)

type RenewerConfig struct {
	Topic string
	// Within is how close to expiry a watch must be before it is renewed.
	Within time.Duration
}

// Renewer keeps provider push watches alive. It only touches expiresAt;
// cursors belong to the Syncer. Subscriptions that already expired stay
// inactive.
type Renewer struct {
	subs   store.ChangeSubscriptionStore
	creds  Credentials
	client Client
	cfg    RenewerConfig
	now    func() time.Time
	cron   *cron.Cron
}

func NewRenewer(subs store.ChangeSubscriptionStore, creds Credentials, client Client, cfg RenewerConfig) *Renewer {
	if cfg.Within <= 0 {
		cfg.Within = 24 * time.Hour
	}
	return &Renewer{
		subs:   subs,
		creds:  creds,
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// RenewOnce renews every watch expiring within the configured window and
// returns how many were renewed. Individual failures are logged and skipped.
func (r *Renewer) RenewOnce(ctx context.Context) (int, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.mailbox.renewer"})

	now := r.now()
	subs, err := r.subs.ListExpiringBetween(ctx, now, now.Add(r.cfg.Within))
	if err != nil {
		return 0, fmt.Errorf("listing expiring subscriptions: %w", err)
	}

	renewed := 0
	for _, sub := range subs {
		subCtx := logger.WithLogFields(ctx, logger.LogFields{SubscriptionID: &sub.ID, WorkflowID: &sub.WorkflowID})

		token, err := r.creds.Resolve(subCtx, sub.CredentialID, sub.OwnerID)
		if err != nil {
			slog.WarnContext(subCtx, "watch renewal skipped: credential unavailable", "error", err)
			continue
		}

		watch, err := r.client.Watch(subCtx, token.AccessToken, r.cfg.Topic, sub.ScopeLabels)
		if err != nil {
			slog.WarnContext(subCtx, "watch renewal failed", "error", err)
			continue
		}

		if err := r.subs.UpdateExpiry(subCtx, sub.ID, watch.ExpiresAt); err != nil {
			slog.ErrorContext(subCtx, "persisting watch expiry failed", "error", err)
			continue
		}
		renewed++
		slog.InfoContext(subCtx, "watch renewed", "expires_at", watch.ExpiresAt)
	}
	return renewed, nil
}

// Start schedules RenewOnce on a cron schedule such as "@every 1h".
func (r *Renewer) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RenewOnce(ctx); err != nil {
			slog.ErrorContext(ctx, "watch renewal cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid renew schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	slog.InfoContext(ctx, "watch renewer started", "schedule", schedule, "within", r.cfg.Within)
	return nil
}

// Stop waits for a running renewal to finish.
func (r *Renewer) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
