// Package credential resolves stored OAuth credentials into usable access
// tokens, refreshing and re-persisting them when they are about to expire.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/store"
	"autoflow.app/relay/internal/vault"
)

var (
	ErrNotFound       = errors.New("credential not found")
	ErrWrongOwner     = errors.New("credential belongs to another owner")
	ErrMalformed      = errors.New("credential payload malformed")
	ErrNoRefreshToken = errors.New("credential expired and has no refresh token")
	ErrRefreshFailed  = errors.New("credential refresh failed")
)

// DefaultSkew is how long before expiry a token is proactively refreshed.
const DefaultSkew = 5 * time.Minute

// ActiveToken is a token that can be used right now.
type ActiveToken struct {
	Expiry      time.Time
	Record      model.TokenRecord
	AccessToken string
	Refreshed   bool
}

type Service struct {
	store      store.CredentialStore
	cipher     vault.Cipher
	refreshers map[model.ProviderType]Refresher
	now        func() time.Time
	skew       time.Duration
}

type Option func(*Service)

// WithSkew overrides DefaultSkew.
func WithSkew(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.skew = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRefresher registers the refresher used for credentials of provider.
func WithRefresher(provider model.ProviderType, r Refresher) Option {
	return func(s *Service) { s.refreshers[provider] = r }
}

func NewService(credentials store.CredentialStore, cipher vault.Cipher, opts ...Option) *Service {
	s := &Service{
		store:      credentials,
		cipher:     cipher,
		refreshers: make(map[model.ProviderType]Refresher),
		now:        time.Now,
		skew:       DefaultSkew,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decrypt loads and opens a credential without refreshing it.
func (s *Service) Decrypt(ctx context.Context, credentialID, ownerID string) (*model.Credential, *model.TokenRecord, error) {
	cred, err := s.store.GetByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, credentialID)
		}
		return nil, nil, fmt.Errorf("loading credential %s: %w", credentialID, err)
	}
	if cred.OwnerID != ownerID {
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongOwner, credentialID)
	}

	record, err := s.cipher.Open(cred.ID, cred.EncryptedBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return cred, record, nil
}

// BoundAccount returns the provider account id the credential acts for.
func (s *Service) BoundAccount(ctx context.Context, credentialID, ownerID string) (string, error) {
	_, record, err := s.Decrypt(ctx, credentialID, ownerID)
	if err != nil {
		return "", err
	}
	return record.BoundAccountID(), nil
}

// Resolve returns a usable token. Tokens within the skew window of expiry are
// refreshed and persisted exactly once; concurrent resolutions of the same
// credential may both refresh, and the last write wins.
func (s *Service) Resolve(ctx context.Context, credentialID, ownerID string) (*ActiveToken, error) {
	cred, record, err := s.Decrypt(ctx, credentialID, ownerID)
	if err != nil {
		return nil, err
	}

	if !s.expiring(*record) {
		return &ActiveToken{AccessToken: record.AccessToken, Expiry: record.Expiry(), Record: *record}, nil
	}

	if record.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRefreshToken, credentialID)
	}

	refresher, ok := s.refreshers[cred.ProviderType]
	if !ok {
		return nil, fmt.Errorf("%w: no refresher for provider %s", ErrRefreshFailed, cred.ProviderType)
	}

	tok, err := refresher.Refresh(ctx, record.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, fmt.Errorf("%w: provider returned an empty access token", ErrRefreshFailed)
	}

	refreshed := *record
	refreshed.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	refreshed.ExpiryEpochMillis = 0
	if !tok.Expiry.IsZero() {
		refreshed.ExpiryEpochMillis = tok.Expiry.UnixMilli()
	}

	blob, err := s.cipher.Seal(cred.ID, refreshed)
	if err != nil {
		return nil, fmt.Errorf("sealing refreshed credential: %w", err)
	}
	if err := s.store.UpdateBlob(ctx, cred.ID, blob); err != nil {
		return nil, fmt.Errorf("persisting refreshed credential: %w", err)
	}

	slog.InfoContext(ctx, "credential refreshed",
		"credential_id", cred.ID,
		"provider", cred.ProviderType,
		"expires_at", refreshed.Expiry())

	return &ActiveToken{
		AccessToken: refreshed.AccessToken,
		Expiry:      refreshed.Expiry(),
		Record:      refreshed,
		Refreshed:   true,
	}, nil
}

// expiring treats an unknown expiry as valid; providers that omit it issue
// long-lived tokens.
func (s *Service) expiring(record model.TokenRecord) bool {
	expiry := record.Expiry()
	if expiry.IsZero() {
		return false
	}
	return !s.now().Add(s.skew).Before(expiry)
}

// IsCredentialError reports whether err is scoped to a single credential and
// should skip only the registration or subscription that referenced it.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWrongOwner) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrNoRefreshToken) ||
		errors.Is(err, ErrRefreshFailed)
}
