// Package dedup derives the idempotency key attached to every execution start.
package dedup

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const prefix = "webhook:"

// idFields are the top-level fields that carry a provider-unique id, in
// priority order. The nested social messaging id sits between update_id and
// the generic fields.
var (
	primaryIDFields = []string{"message_id", "messageId", "update_id"}
	genericIDFields = []string{"id", "event_id", "eventId", "comment_id", "commentId", "request_id", "requestId"}
)

// DeriveKey returns "webhook:<workflowID>:<id>" when fields carry a known
// unique id, and "webhook:<workflowID>:hash:<h>" over raw otherwise. The hash
// is xxhash64, which is not collision resistant; two distinct bodies that
// collide for the same workflow collapse into one start.
func DeriveKey(workflowID string, fields map[string]any, raw []byte) string {
	if id, ok := IDFromFields(fields); ok {
		return prefix + workflowID + ":" + id
	}
	return prefix + workflowID + ":hash:" + strconv.FormatUint(xxhash.Sum64(raw), 36)
}

// DeriveKeyFromBody parses body according to contentType and derives the key.
func DeriveKeyFromBody(workflowID, contentType string, body []byte) string {
	return DeriveKey(workflowID, ParseFields(contentType, body), body)
}

// IDFromFields looks up the first known unique-id field with a usable value.
func IDFromFields(fields map[string]any) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	for _, name := range primaryIDFields {
		if id, ok := scalar(fields[name]); ok {
			return id, true
		}
	}
	if id, ok := nestedMessagingID(fields); ok {
		return id, true
	}
	for _, name := range genericIDFields {
		if id, ok := scalar(fields[name]); ok {
			return id, true
		}
	}
	return "", false
}

// ParseFields decodes a JSON object or form-encoded body into a field map.
// Anything else yields nil, leaving only the hash fallback.
func ParseFields(contentType string, body []byte) map[string]any {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil
		}
		fields := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		return fields
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") || mediaType == "":
		return decodeObject(body)
	default:
		return nil
	}
}

func decodeObject(body []byte) map[string]any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil
	}
	return fields
}

// nestedMessagingID reads entry[0].messaging[0].message.mid.
func nestedMessagingID(fields map[string]any) (string, bool) {
	entries, ok := fields["entry"].([]any)
	if !ok || len(entries) == 0 {
		return "", false
	}
	entry, ok := entries[0].(map[string]any)
	if !ok {
		return "", false
	}
	messaging, ok := entry["messaging"].([]any)
	if !ok || len(messaging) == 0 {
		return "", false
	}
	first, ok := messaging[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	return scalar(message["mid"])
}

func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
