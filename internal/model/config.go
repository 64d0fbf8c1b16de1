package model

type KeywordMatchMode string

const (
	KeywordMatchAny   KeywordMatchMode = "any"
	KeywordMatchAll   KeywordMatchMode = "all"
	KeywordMatchExact KeywordMatchMode = "exact"
)

type SocialTriggerMode string

const (
	SocialTriggerDM      SocialTriggerMode = "dm"
	SocialTriggerComment SocialTriggerMode = "comment"
	SocialTriggerBoth    SocialTriggerMode = "both"
)

// ChatTriggerConfig is the stored predicate bag of a chat-message trigger.
type ChatTriggerConfig struct {
	ChannelID           string           `json:"channelId,omitempty"`
	GuildID             string           `json:"guildId,omitempty"`
	KeywordMatchMode    KeywordMatchMode `json:"keywordMatchMode,omitempty" jsonschema:"enum=any,enum=all,enum=exact"`
	KeywordFilters      []string         `json:"keywordFilters,omitempty"`
	AllowDirectMessages bool             `json:"allowDirectMessages,omitempty"`
	IncludeBotAuthors   bool             `json:"includeBotAuthors,omitempty"`
}

// CombinedSocialConfig is the current social trigger layout: one registration
// covers DMs, comments or both, each with its own keyword filters.
type CombinedSocialConfig struct {
	CredentialID            string            `json:"credentialId,omitempty"`
	TriggerMode             SocialTriggerMode `json:"triggerMode,omitempty" jsonschema:"enum=dm,enum=comment,enum=both"`
	DMKeywordMatchMode      KeywordMatchMode  `json:"dmKeywordMatchMode,omitempty" jsonschema:"enum=any,enum=all,enum=exact"`
	CommentKeywordMatchMode KeywordMatchMode  `json:"commentKeywordMatchMode,omitempty" jsonschema:"enum=any,enum=all,enum=exact"`
	PostScope               string            `json:"postScope,omitempty"`
	DMKeywordFilters        []string          `json:"dmKeywordFilters,omitempty"`
	CommentKeywordFilters   []string          `json:"commentKeywordFilters,omitempty"`
}

// LegacySocialConfig predates TriggerMode: a single keyword filter applies to
// both DMs and comments.
type LegacySocialConfig struct {
	CredentialID     string           `json:"credentialId,omitempty"`
	KeywordMatchMode KeywordMatchMode `json:"keywordMatchMode,omitempty" jsonschema:"enum=any,enum=all,enum=exact"`
	PostScope        string           `json:"postScope,omitempty"`
	KeywordFilters   []string         `json:"keywordFilters,omitempty"`
}
