package credential

import (
	"net/http"
	"time"

	"autoflow.app/relay/core/config"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/store"
	"autoflow.app/relay/internal/vault"
)

// NewServiceFromConfig wires one OAuth refresher per provider family. A
// provider without client credentials gets none, so its expiring tokens fail
// with ErrRefreshFailed instead of calling the token endpoint.
func NewServiceFromConfig(cfg config.Config, credentials store.CredentialStore) (*Service, error) {
	cipher, err := vault.New(cfg.Credentials.EncryptionKey)
	if err != nil {
		return nil, err
	}

	oauthClient := &http.Client{Timeout: 15 * time.Second}
	opts := []Option{WithSkew(cfg.Credentials.TokenSkew)}
	if cfg.OAuth.Google.Enabled() {
		opts = append(opts, WithRefresher(model.ProviderMailbox, NewOAuthRefresher(cfg.OAuth.Google, oauthClient)))
	}
	if cfg.OAuth.Meta.Enabled() {
		meta := NewOAuthRefresher(cfg.OAuth.Meta, oauthClient)
		opts = append(opts,
			WithRefresher(model.ProviderSocialDM, meta),
			WithRefresher(model.ProviderSocialComment, meta))
	}
	return NewService(credentials, cipher, opts...), nil
}
