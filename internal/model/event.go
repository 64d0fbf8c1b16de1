package model

import (
	"encoding/json"
	"time"
)

type Attachment struct {
	URL         string `json:"url,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// InboundEvent is the normalized, provider-agnostic envelope of one external
// event. It is never persisted.
type InboundEvent struct {
	Timestamp       time.Time       `json:"timestamp"`
	Provider        ProviderType    `json:"provider"`
	EventID         string          `json:"eventId,omitempty"`
	SenderID        string          `json:"senderId,omitempty"`
	SenderName      string          `json:"senderName,omitempty"`
	RecipientID     string          `json:"recipientId,omitempty"`
	ChannelID       string          `json:"channelId,omitempty"`
	GuildID         string          `json:"guildId,omitempty"`
	PostID          string          `json:"postId,omitempty"`
	Text            string          `json:"text,omitempty"`
	Attachments     []Attachment    `json:"attachments,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	IsDirectMessage bool            `json:"isDirectMessage,omitempty"`
	IsBot           bool            `json:"isBot,omitempty"`
}
