package dto

import "time"

type ChatAttachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ChatMessageRequest is the body the chat bot relays for every message it sees.
type ChatMessageRequest struct {
	Timestamp      *time.Time       `json:"timestamp,omitempty"`
	GuildID        string           `json:"guildId,omitempty"`
	ChannelID      string           `json:"channelId,omitempty"`
	MessageID      string           `json:"messageId,omitempty"`
	Content        string           `json:"content"`
	AuthorID       string           `json:"authorId" binding:"required"`
	AuthorUsername string           `json:"authorUsername,omitempty"`
	Attachments    []ChatAttachment `json:"attachments,omitempty"`
	IsBot          bool             `json:"isBot,omitempty"`
	IsDM           bool             `json:"isDM,omitempty"`
}

type ChatMessageResponse struct {
	Error     string `json:"error,omitempty"`
	Processed int    `json:"processed"`
	Success   bool   `json:"success"`
}
