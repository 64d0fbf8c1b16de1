package service

import (
	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/mailbox"
	"autoflow.app/relay/internal/store"
)

type ServicesConfig struct {
	Triggers    store.TriggerRegistrationStore
	Matcher     Matcher
	Dispatcher  dispatch.Dispatcher
	Syncer      *mailbox.Syncer
	Concurrency int
}

type Services struct {
	cfg ServicesConfig
}

func NewServices(cfg ServicesConfig) *Services {
	return &Services{cfg: cfg}
}

func (s *Services) Chat() ChatService {
	return NewChatService(s.cfg.Triggers, s.cfg.Matcher, s.cfg.Dispatcher, s.cfg.Concurrency)
}

func (s *Services) Webhooks() WebhookService {
	return NewWebhookService(s.cfg.Triggers, s.cfg.Dispatcher)
}

func (s *Services) Social() SocialService {
	return NewSocialService(s.cfg.Triggers, s.cfg.Matcher, s.cfg.Dispatcher, s.cfg.Concurrency)
}

func (s *Services) Mailbox() MailboxService {
	return NewMailboxService(s.cfg.Syncer)
}
