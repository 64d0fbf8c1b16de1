package model

import (
	"math/big"
	"time"
)

// ChangeSubscription tracks how far a mailbox's history feed has been consumed
// for one workflow.
type ChangeSubscription struct {
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CredentialID string     `json:"credential_id"`
	OwnerID      string     `json:"owner_id"`
	WorkflowID   string     `json:"workflow_id"`
	LastCursor   string     `json:"last_cursor"`
	ScopeLabels  []string   `json:"scope_labels,omitempty"`
	ID           int64      `json:"id"`
}

// Active reports whether the subscription should still receive notifications.
// A nil ExpiresAt never expires.
func (s ChangeSubscription) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// CursorAfter reports whether cursor next is strictly ahead of prev. Cursors
// are opaque but providers hand out decimal history ids, which are compared
// numerically; anything else falls back to length-then-lexical order. An empty
// prev is behind every non-empty cursor.
func CursorAfter(next, prev string) bool {
	if next == "" {
		return false
	}
	if prev == "" {
		return true
	}
	n, okN := new(big.Int).SetString(next, 10)
	p, okP := new(big.Int).SetString(prev, 10)
	if okN && okP {
		return n.Cmp(p) > 0
	}
	if len(next) != len(prev) {
		return len(next) > len(prev)
	}
	return next > prev
}
