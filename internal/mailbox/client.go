package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autoflow.app/relay/common/logger"
)

var (
	// ErrHistoryFetch means the history call itself failed; the subscription
	// is abandoned for this notification and its cursor stays put.
	ErrHistoryFetch = errors.New("mailbox history fetch failed")
	// ErrCursorExpired is returned when the provider no longer has history
	// starting at the stored cursor.
	ErrCursorExpired = errors.New("mailbox history cursor expired")
)

// HistoryItem is one newly-added message reference.
type HistoryItem struct {
	ID       string
	ThreadID string
	LabelIDs []string
}

// History is everything added since a cursor. Items are unique and in
// discovery order; Cursor is where the next fetch should start.
type History struct {
	Cursor string
	Items  []HistoryItem
}

// Message is the metadata view of one mailbox message.
type Message struct {
	ReceivedAt time.Time       `json:"receivedAt"`
	ID         string          `json:"id"`
	ThreadID   string          `json:"threadId"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	Snippet    string          `json:"snippet,omitempty"`
	LabelIDs   []string        `json:"labelIds,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// WatchResult is the provider's answer to a watch (re)registration.
type WatchResult struct {
	ExpiresAt time.Time
	Cursor    string
}

// Client talks to the provider mailbox API on behalf of one access token.
type Client interface {
	ListHistory(ctx context.Context, accessToken, startCursor string) (*History, error)
	GetMessage(ctx context.Context, accessToken, messageID string) (*Message, error)
	Watch(ctx context.Context, accessToken, topic string, labelIDs []string) (*WatchResult, error)
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient returns a Client for the Gmail REST API rooted at baseURL.
func NewHTTPClient(baseURL string, client *http.Client) Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

type historyResponse struct {
	History []struct {
		MessagesAdded []struct {
			Message struct {
				ID       string   `json:"id"`
				ThreadID string   `json:"threadId"`
				LabelIDs []string `json:"labelIds"`
			} `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	NextPageToken string      `json:"nextPageToken"`
	HistoryID     json.Number `json:"historyId"`
}

func (c *httpClient) ListHistory(ctx context.Context, accessToken, startCursor string) (*History, error) {
	result := &History{}
	seen := make(map[string]struct{})
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("startHistoryId", startCursor)
		q.Set("historyTypes", "messageAdded")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page historyResponse
		status, err := c.do(ctx, http.MethodGet, "/gmail/v1/users/me/history?"+q.Encode(), accessToken, nil, &page)
		if err != nil {
			if status == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %w: %w", ErrHistoryFetch, ErrCursorExpired, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrHistoryFetch, err)
		}

		for _, record := range page.History {
			for _, added := range record.MessagesAdded {
				id := added.Message.ID
				if id == "" {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				result.Items = append(result.Items, HistoryItem{
					ID:       id,
					ThreadID: added.Message.ThreadID,
					LabelIDs: added.Message.LabelIDs,
				})
			}
		}
		if page.HistoryID != "" {
			result.Cursor = page.HistoryID.String()
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return result, nil
}

type messageResponse struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

func (c *httpClient) GetMessage(ctx context.Context, accessToken, messageID string) (*Message, error) {
	q := url.Values{}
	q.Set("format", "metadata")
	for _, h := range []string{"From", "To", "Subject", "Date"} {
		q.Add("metadataHeaders", h)
	}

	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, "/gmail/v1/users/me/messages/"+url.PathEscape(messageID)+"?"+q.Encode(), accessToken, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", messageID, err)
	}

	var resp messageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding message %s: %w", messageID, err)
	}

	msg := &Message{
		ID:       resp.ID,
		ThreadID: resp.ThreadID,
		LabelIDs: resp.LabelIDs,
		Snippet:  resp.Snippet,
		Raw:      raw,
	}
	if ms, err := strconv.ParseInt(resp.InternalDate, 10, 64); err == nil {
		msg.ReceivedAt = time.UnixMilli(ms).UTC()
	}
	for _, h := range resp.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = h.Value
		case "subject":
			msg.Subject = h.Value
		}
	}
	return msg, nil
}

type watchRequest struct {
	TopicName           string   `json:"topicName"`
	LabelIDs            []string `json:"labelIds,omitempty"`
	LabelFilterBehavior string   `json:"labelFilterBehavior,omitempty"`
}

type watchResponse struct {
	HistoryID  json.Number `json:"historyId"`
	Expiration string      `json:"expiration"`
}

func (c *httpClient) Watch(ctx context.Context, accessToken, topic string, labelIDs []string) (*WatchResult, error) {
	req := watchRequest{TopicName: topic, LabelIDs: labelIDs}
	if len(labelIDs) > 0 {
		req.LabelFilterBehavior = "include"
	}

	var resp watchResponse
	if _, err := c.do(ctx, http.MethodPost, "/gmail/v1/users/me/watch", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("renewing watch: %w", err)
	}

	ms, err := strconv.ParseInt(resp.Expiration, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing watch expiration %q: %w", resp.Expiration, err)
	}
	return &WatchResult{ExpiresAt: time.UnixMilli(ms).UTC(), Cursor: resp.HistoryID.String()}, nil
}

// do returns the HTTP status alongside any error so callers can classify it.
func (c *httpClient) do(ctx context.Context, method, path, accessToken string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, strings.SplitN(path, "?", 2)[0], resp.StatusCode, logger.Truncate(string(data), 200))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
