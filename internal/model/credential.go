package model

import "time"

// Credential is the stored, encrypted form of an OAuth token. The router only
// sees the blob; internal/vault turns it into a TokenRecord.
type Credential struct {
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	ID            string       `json:"id"`
	OwnerID       string       `json:"owner_id"`
	ProviderType  ProviderType `json:"provider_type"`
	EncryptedBlob []byte       `json:"-"`
}

// TokenRecord is the decrypted credential payload.
type TokenRecord struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken,omitempty"`
	Email             string `json:"email,omitempty"`
	WorkspaceID       string `json:"workspaceId,omitempty"`
	PageID            string `json:"pageId,omitempty"`
	AccountID         string `json:"accountId,omitempty"`
	ExpiryEpochMillis int64  `json:"expiryEpochMillis,omitempty"`
}

// Expiry returns the token expiry, or the zero time when the provider did not
// report one.
func (r TokenRecord) Expiry() time.Time {
	if r.ExpiryEpochMillis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.ExpiryEpochMillis)
}

// BoundAccountID is the provider account the token acts for. Social
// credentials bind to a page/account id, mailbox credentials to an address.
func (r TokenRecord) BoundAccountID() string {
	switch {
	case r.PageID != "":
		return r.PageID
	case r.AccountID != "":
		return r.AccountID
	default:
		return r.Email
	}
}
