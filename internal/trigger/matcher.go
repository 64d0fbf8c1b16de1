// Package trigger decides which registered triggers fire for an inbound event.
// Stored configurations are normalized into canonical predicates first, so the
// matching rules never look at schema versions.
package trigger

import (
	"context"
	"errors"
	"log/slog"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/model"
)

// AccountResolver returns the provider account a stored credential is bound
// to, e.g. the page id of a social credential.
type AccountResolver interface {
	BoundAccount(ctx context.Context, credentialID, ownerID string) (string, error)
}

var errNoAccountResolver = errors.New("no account resolver configured")

type Matcher struct {
	schemas  *Schemas
	accounts AccountResolver
}

// NewMatcher compiles the configuration schemas. accounts may be nil when
// only chat events are matched.
func NewMatcher(accounts AccountResolver) (*Matcher, error) {
	schemas, err := NewSchemas()
	if err != nil {
		return nil, err
	}
	return &Matcher{schemas: schemas, accounts: accounts}, nil
}

// Match returns the registrations that should fire for event, in input order.
// Registrations for other providers are ignored; malformed registrations are
// logged and skipped.
func (m *Matcher) Match(ctx context.Context, event model.InboundEvent, regs []model.TriggerRegistration) []model.TriggerRegistration {
	switch {
	case event.Provider == model.ProviderChatMessage:
		return m.matchChat(ctx, event, regs)
	case event.Provider.IsSocial():
		return m.matchSocial(ctx, event, regs)
	default:
		var matched []model.TriggerRegistration
		for _, reg := range regs {
			if reg.ProviderType == event.Provider {
				matched = append(matched, reg)
			}
		}
		return matched
	}
}

func (m *Matcher) matchChat(ctx context.Context, event model.InboundEvent, regs []model.TriggerRegistration) []model.TriggerRegistration {
	var matched []model.TriggerRegistration
	for _, reg := range regs {
		if reg.ProviderType != model.ProviderChatMessage {
			continue
		}
		pred, err := m.schemas.NormalizeChat(reg)
		if err != nil {
			logSkip(ctx, reg, "invalid chat trigger configuration", err)
			continue
		}
		if MatchChat(pred, event) {
			matched = append(matched, reg)
		}
	}
	return matched
}

// MatchChat applies a chat predicate. Every condition must hold; unscoped
// predicates accept any channel and guild.
func MatchChat(p ChatPredicate, event model.InboundEvent) bool {
	if event.IsDirectMessage && !p.AllowDirectMessages {
		return false
	}
	if p.ChannelID != "" && p.ChannelID != event.ChannelID {
		return false
	}
	if p.GuildID != "" && p.GuildID != event.GuildID {
		return false
	}
	if event.IsBot && !p.IncludeBotAuthors {
		return false
	}
	return p.Keywords.Matches(event.Text)
}

func (m *Matcher) matchSocial(ctx context.Context, event model.InboundEvent, regs []model.TriggerRegistration) []model.TriggerRegistration {
	// One event usually hits several registrations sharing a credential.
	accounts := make(map[string]string)

	var matched []model.TriggerRegistration
	for _, reg := range regs {
		if !reg.ProviderType.IsSocial() {
			continue
		}
		pred, err := m.schemas.NormalizeSocial(reg)
		if err != nil {
			logSkip(ctx, reg, "invalid social trigger configuration", err)
			continue
		}
		if !MatchSocial(pred, event) {
			continue
		}

		key := reg.OwnerID + "/" + pred.CredentialID
		account, ok := accounts[key]
		if !ok {
			account, err = m.boundAccount(ctx, pred.CredentialID, reg.OwnerID)
			if err != nil {
				logSkip(ctx, reg, "credential account unavailable", err)
				continue
			}
			accounts[key] = account
		}
		if account == "" || account != event.RecipientID {
			continue
		}
		matched = append(matched, reg)
	}
	return matched
}

func (m *Matcher) boundAccount(ctx context.Context, credentialID, ownerID string) (string, error) {
	if m.accounts == nil {
		return "", errNoAccountResolver
	}
	return m.accounts.BoundAccount(ctx, credentialID, ownerID)
}

// MatchSocial applies the credential-independent part of a social predicate:
// mode routing, post scope and keywords.
func MatchSocial(p SocialPredicate, event model.InboundEvent) bool {
	if p.CredentialID == "" {
		return false
	}
	switch event.Provider {
	case model.ProviderSocialDM:
		return p.AcceptsDM() && p.DM.Matches(event.Text)
	case model.ProviderSocialComment:
		if !p.AcceptsComment() {
			return false
		}
		if p.PostScope != "" && p.PostScope != event.PostID {
			return false
		}
		return p.Comment.Matches(event.Text)
	default:
		return false
	}
}

func logSkip(ctx context.Context, reg model.TriggerRegistration, msg string, err error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TriggerID:  &reg.ID,
		WorkflowID: &reg.WorkflowID,
		Component:  "relay.trigger.matcher",
	})
	slog.WarnContext(ctx, msg, "error", err)
}
