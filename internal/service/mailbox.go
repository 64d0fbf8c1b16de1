package service

import (
	"context"

	"autoflow.app/relay/internal/mailbox"
)

type MailboxService interface {
	HandlePush(ctx context.Context, body []byte) (*mailbox.Report, error)
}

type mailboxService struct {
	syncer *mailbox.Syncer
}

func NewMailboxService(syncer *mailbox.Syncer) MailboxService {
	return &mailboxService{syncer: syncer}
}

// HandlePush decodes a push notification and syncs the subscriptions bound to
// the notified account.
func (s *mailboxService) HandlePush(ctx context.Context, body []byte) (*mailbox.Report, error) {
	n, err := mailbox.DecodePush(body)
	if err != nil {
		return nil, err
	}
	return s.syncer.HandleNotification(ctx, n)
}
