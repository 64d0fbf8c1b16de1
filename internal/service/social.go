package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/dedup"
	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/store"
)

var ErrInvalidSocialPayload = errors.New("invalid social webhook payload")

type SocialService interface {
	// Process routes every DM and comment in a verified webhook body.
	Process(ctx context.Context, body []byte) (DispatchSummary, error)
}

type socialService struct {
	triggers    store.TriggerRegistrationStore
	matcher     Matcher
	dispatcher  dispatch.Dispatcher
	concurrency int
}

func NewSocialService(triggers store.TriggerRegistrationStore, matcher Matcher, dispatcher dispatch.Dispatcher, concurrency int) SocialService {
	return &socialService{
		triggers:    triggers,
		matcher:     matcher,
		dispatcher:  dispatcher,
		concurrency: concurrency,
	}
}

type socialWebhook struct {
	Object string        `json:"object"`
	Entry  []socialEntry `json:"entry"`
}

type socialEntry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
	Changes   []json.RawMessage `json:"changes"`
}

type socialMessaging struct {
	Sender    struct{ ID string } `json:"sender"`
	Recipient struct{ ID string } `json:"recipient"`
	Timestamp int64               `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

type socialChange struct {
	Field string `json:"field"`
	Value struct {
		Item      string `json:"item"`
		Verb      string `json:"verb"`
		CommentID string `json:"comment_id"`
		PostID    string `json:"post_id"`
		Message   string `json:"message"`
		// Instagram comment fields.
		ID   string `json:"id"`
		Text string `json:"text"`
		From struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"from"`
		Media struct {
			ID string `json:"id"`
		} `json:"media"`
		CreatedTime int64 `json:"created_time"`
	} `json:"value"`
}

// socialEvent is one normalized event plus the fields its dedup key uses.
type socialEvent struct {
	fields map[string]any
	raw    []byte
	event  model.InboundEvent
}

func (s *socialService) Process(ctx context.Context, body []byte) (DispatchSummary, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.service.social"})

	events, err := parseSocialWebhook(body)
	if err != nil {
		return DispatchSummary{}, err
	}
	if len(events) == 0 {
		return DispatchSummary{}, nil
	}

	regs, err := s.triggers.ListByProvider(ctx, model.ProviderSocialDM, model.ProviderSocialComment)
	if err != nil {
		return DispatchSummary{}, fmt.Errorf("listing social triggers: %w", err)
	}

	var total DispatchSummary
	for _, ev := range events {
		evCtx := logger.WithLogFields(ctx, logger.LogFields{Provider: logger.Ptr(string(ev.event.Provider))})

		matched := s.matcher.Match(evCtx, ev.event, regs)
		if len(matched) == 0 {
			continue
		}
		summary := dispatchMatched(evCtx, s.dispatcher, s.concurrency, matched, func(reg model.TriggerRegistration) (string, any) {
			return dedup.DeriveKey(reg.WorkflowID, ev.fields, ev.raw), triggerPayload(reg, ev.event)
		})
		total.Matched += summary.Matched
		total.Dispatched += summary.Dispatched
		total.Duplicates += summary.Duplicates
		total.Failed += summary.Failed
	}

	slog.InfoContext(ctx, "social webhook routed",
		"events", len(events),
		"matched", total.Matched,
		"dispatched", total.Dispatched,
		"failed", total.Failed)
	return total, nil
}

// parseSocialWebhook extracts DMs and new comments. Echoes of the page's own
// messages and the page's own comments are dropped.
func parseSocialWebhook(body []byte) ([]socialEvent, error) {
	var hook socialWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSocialPayload, err)
	}

	var events []socialEvent
	for _, entry := range hook.Entry {
		for _, raw := range entry.Messaging {
			var m socialMessaging
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, fmt.Errorf("%w: messaging: %w", ErrInvalidSocialPayload, err)
			}
			if m.Message == nil || m.Message.IsEcho || m.Sender.ID == entry.ID {
				continue
			}

			ev := model.InboundEvent{
				Provider:        model.ProviderSocialDM,
				EventID:         m.Message.MID,
				SenderID:        m.Sender.ID,
				RecipientID:     m.Recipient.ID,
				Text:            m.Message.Text,
				Timestamp:       millis(m.Timestamp),
				Raw:             raw,
				IsDirectMessage: true,
			}
			if ev.RecipientID == "" {
				ev.RecipientID = entry.ID
			}
			for _, a := range m.Message.Attachments {
				ev.Attachments = append(ev.Attachments, model.Attachment{URL: a.Payload.URL, ContentType: a.Type})
			}
			events = append(events, socialEvent{
				event:  ev,
				fields: map[string]any{"message_id": m.Message.MID},
				raw:    raw,
			})
		}

		for _, raw := range entry.Changes {
			var c socialChange
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("%w: changes: %w", ErrInvalidSocialPayload, err)
			}
			ev, ok := commentEvent(entry, c, raw)
			if !ok {
				continue
			}
			events = append(events, socialEvent{
				event:  ev,
				fields: map[string]any{"comment_id": ev.EventID},
				raw:    raw,
			})
		}
	}
	return events, nil
}

func commentEvent(entry socialEntry, c socialChange, raw json.RawMessage) (model.InboundEvent, bool) {
	v := c.Value
	ev := model.InboundEvent{
		Provider:    model.ProviderSocialComment,
		RecipientID: entry.ID,
		SenderID:    v.From.ID,
		Raw:         raw,
	}

	switch c.Field {
	case "feed":
		if v.Item != "comment" || v.Verb != "add" {
			return ev, false
		}
		ev.EventID = v.CommentID
		ev.PostID = v.PostID
		ev.Text = v.Message
		ev.SenderName = v.From.Name
		ev.Timestamp = seconds(v.CreatedTime)
	case "comments":
		ev.EventID = v.ID
		ev.PostID = v.Media.ID
		ev.Text = v.Text
		ev.SenderName = v.From.Username
	default:
		return ev, false
	}

	if ev.EventID == "" || ev.SenderID == entry.ID {
		return ev, false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = seconds(entry.Time)
	}
	return ev, true
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// entry.time is seconds for page feeds and milliseconds for some Instagram
// deliveries.
func seconds(v int64) time.Time {
	switch {
	case v <= 0:
		return time.Time{}
	case v > 1e12:
		return time.UnixMilli(v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}
