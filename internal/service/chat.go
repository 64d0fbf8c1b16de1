package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/dedup"
	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/store"
)

// ChatMessage is one message relayed by the chat bot.
type ChatMessage struct {
	Timestamp      time.Time
	GuildID        string
	ChannelID      string
	MessageID      string
	Content        string
	AuthorID       string
	AuthorUsername string
	Attachments    []model.Attachment
	Raw            json.RawMessage
	IsBot          bool
	IsDM           bool
}

type ChatService interface {
	Process(ctx context.Context, msg ChatMessage) (DispatchSummary, error)
}

// Matcher selects the registrations an event fires.
type Matcher interface {
	Match(ctx context.Context, event model.InboundEvent, regs []model.TriggerRegistration) []model.TriggerRegistration
}

type chatService struct {
	triggers    store.TriggerRegistrationStore
	matcher     Matcher
	dispatcher  dispatch.Dispatcher
	concurrency int
}

func NewChatService(triggers store.TriggerRegistrationStore, matcher Matcher, dispatcher dispatch.Dispatcher, concurrency int) ChatService {
	return &chatService{
		triggers:    triggers,
		matcher:     matcher,
		dispatcher:  dispatcher,
		concurrency: concurrency,
	}
}

func (s *chatService) Process(ctx context.Context, msg ChatMessage) (DispatchSummary, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:  logger.Ptr(string(model.ProviderChatMessage)),
		Component: "relay.service.chat",
	})

	event := model.InboundEvent{
		Provider:        model.ProviderChatMessage,
		EventID:         msg.MessageID,
		SenderID:        msg.AuthorID,
		SenderName:      msg.AuthorUsername,
		ChannelID:       msg.ChannelID,
		GuildID:         msg.GuildID,
		Text:            msg.Content,
		Attachments:     msg.Attachments,
		Timestamp:       msg.Timestamp,
		Raw:             msg.Raw,
		IsDirectMessage: msg.IsDM,
		IsBot:           msg.IsBot,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	regs, err := s.triggers.ListByProvider(ctx, model.ProviderChatMessage)
	if err != nil {
		return DispatchSummary{}, fmt.Errorf("listing chat triggers: %w", err)
	}

	matched := s.matcher.Match(ctx, event, regs)
	if len(matched) == 0 {
		slog.DebugContext(ctx, "no chat trigger matched", "channel_id", msg.ChannelID, "registrations", len(regs))
		return DispatchSummary{}, nil
	}

	fields := map[string]any{"messageId": msg.MessageID}
	summary := dispatchMatched(ctx, s.dispatcher, s.concurrency, matched, func(reg model.TriggerRegistration) (string, any) {
		return dedup.DeriveKey(reg.WorkflowID, fields, msg.Raw), triggerPayload(reg, event)
	})

	slog.InfoContext(ctx, "chat message routed",
		"matched", summary.Matched,
		"dispatched", summary.Dispatched,
		"failed", summary.Failed)
	return summary, nil
}
