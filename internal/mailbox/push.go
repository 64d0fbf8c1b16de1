package mailbox

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPush = errors.New("invalid mailbox push notification")

// Notification is the decoded body of a mailbox push message.
type Notification struct {
	EmailAddress string
	HistoryID    string
	MessageID    string
	PublishTime  string
}

type pushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type pushData struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// DecodePush parses {message: {data: base64(JSON)}} into a Notification.
func DecodePush(body []byte) (Notification, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrInvalidPush, err)
	}
	if env.Message.Data == "" {
		return Notification{}, fmt.Errorf("%w: empty data", ErrInvalidPush)
	}

	decoded, err := decodeBase64(env.Message.Data)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrInvalidPush, err)
	}

	var data pushData
	dec := json.NewDecoder(bytes.NewReader(decoded))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrInvalidPush, err)
	}
	if strings.TrimSpace(data.EmailAddress) == "" {
		return Notification{}, fmt.Errorf("%w: missing emailAddress", ErrInvalidPush)
	}

	return Notification{
		EmailAddress: strings.TrimSpace(data.EmailAddress),
		HistoryID:    data.HistoryID.String(),
		MessageID:    env.Message.MessageID,
		PublishTime:  env.Message.PublishTime,
	}, nil
}

// Push senders are inconsistent about padding and alphabet.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("data is not base64")
}
