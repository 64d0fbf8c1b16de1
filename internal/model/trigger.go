package model

import (
	"encoding/json"
	"time"
)

// ProviderType identifies the class of external events a trigger reacts to.
type ProviderType string

const (
	ProviderChatMessage    ProviderType = "chat-message"
	ProviderMailbox        ProviderType = "mailbox"
	ProviderSocialDM       ProviderType = "social-dm"
	ProviderSocialComment  ProviderType = "social-comment"
	ProviderGenericWebhook ProviderType = "generic-webhook"
)

func (p ProviderType) IsSocial() bool {
	return p == ProviderSocialDM || p == ProviderSocialComment
}

// SchemaVersion records which configuration layout a registration was saved with.
// Empty means unknown and is resolved by inspecting the configuration.
type SchemaVersion string

const (
	SchemaVersionLegacy   SchemaVersion = "legacy"
	SchemaVersionCombined SchemaVersion = "combined"
)

// TriggerRegistration binds one workflow node to a class of external events.
// Configuration is kept raw; internal/trigger normalizes it before matching.
type TriggerRegistration struct {
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	WorkflowID    string          `json:"workflow_id"`
	NodeID        string          `json:"node_id,omitempty"`
	ProviderType  ProviderType    `json:"provider_type"`
	OwnerID       string          `json:"owner_id"`
	SchemaVersion SchemaVersion   `json:"schema_version,omitempty"`
	Configuration json.RawMessage `json:"configuration"`
	ID            int64           `json:"id"`
}
