package handler_test

import (
	"context"

	"autoflow.app/relay/internal/mailbox"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/service"
	"autoflow.app/relay/internal/verify"
)

const (
	chatSecret    = "chat-secret"
	webhookSecret = "hook-secret"
	appSecret     = "app-secret"
	socialToken   = "social-token"
	mailboxToken  = "mailbox-token"
)

func newVerifier() *verify.Verifier {
	social := verify.Rule{
		Method:      verify.MethodHMAC,
		Secret:      appSecret,
		Headers:     []string{"X-Hub-Signature-256"},
		Prefix:      "sha256=",
		VerifyToken: socialToken,
	}
	return verify.New(map[model.ProviderType]verify.Rule{
		model.ProviderChatMessage: {
			Method:  verify.MethodSharedSecret,
			Secret:  chatSecret,
			Headers: []string{"X-Relay-Secret"},
		},
		model.ProviderGenericWebhook: {
			Method:  verify.MethodSharedSecret,
			Secret:  webhookSecret,
			Headers: []string{"X-Webhook-Secret", "X-Webhook-Signature"},
		},
		model.ProviderSocialDM:      social,
		model.ProviderSocialComment: social,
		model.ProviderMailbox: {
			Method:     verify.MethodSharedSecret,
			Secret:     mailboxToken,
			QueryParam: "token",
		},
	})
}

type mockChatService struct {
	processFn func(ctx context.Context, msg service.ChatMessage) (service.DispatchSummary, error)
}

func (m *mockChatService) Process(ctx context.Context, msg service.ChatMessage) (service.DispatchSummary, error) {
	if m.processFn != nil {
		return m.processFn(ctx, msg)
	}
	return service.DispatchSummary{}, nil
}

type mockWebhookService struct {
	receiveFn func(ctx context.Context, hook service.GenericWebhook) (*service.WebhookResult, error)
}

func (m *mockWebhookService) Receive(ctx context.Context, hook service.GenericWebhook) (*service.WebhookResult, error) {
	if m.receiveFn != nil {
		return m.receiveFn(ctx, hook)
	}
	return &service.WebhookResult{}, nil
}

type mockSocialService struct {
	processFn func(ctx context.Context, body []byte) (service.DispatchSummary, error)
	calls     int
}

func (m *mockSocialService) Process(ctx context.Context, body []byte) (service.DispatchSummary, error) {
	m.calls++
	if m.processFn != nil {
		return m.processFn(ctx, body)
	}
	return service.DispatchSummary{}, nil
}

type mockMailboxService struct {
	handlePushFn func(ctx context.Context, body []byte) (*mailbox.Report, error)
	calls        int
}

func (m *mockMailboxService) HandlePush(ctx context.Context, body []byte) (*mailbox.Report, error) {
	m.calls++
	if m.handlePushFn != nil {
		return m.handlePushFn(ctx, body)
	}
	return &mailbox.Report{}, nil
}
