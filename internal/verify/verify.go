// Package verify authenticates inbound provider requests before any parsing
// happens. All comparisons are constant-time.
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"autoflow.app/relay/internal/model"
)

var (
	ErrMissingSignature  = errors.New("missing signature")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidSecret     = errors.New("invalid secret")
	ErrNotConfigured     = errors.New("verification secret not configured")
	ErrHandshakeRejected = errors.New("handshake rejected")
	ErrUnknownProvider   = errors.New("no verification rule for provider")
)

type Method string

const (
	// MethodHMAC checks HMAC-SHA256(secret, rawBody) against a header.
	MethodHMAC Method = "hmac_sha256"
	// MethodSharedSecret compares a header (or query parameter) to the secret.
	// An empty secret authorizes every request.
	MethodSharedSecret Method = "shared_secret"
)

// Rule describes how one provider authenticates its requests.
type Rule struct {
	Method Method
	Secret string
	// Headers are checked in order; the first non-empty one is used.
	Headers []string
	// QueryParam is consulted when none of Headers is present.
	QueryParam string
	// Prefix is prepended to the hex digest for MethodHMAC, e.g. "sha256=".
	Prefix string
	// VerifyToken enables the GET subscription handshake.
	VerifyToken string
}

// Request is the unparsed view of an inbound request.
type Request struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Handshake carries the GET challenge parameters.
type Handshake struct {
	Mode      string
	Token     string
	Challenge string
}

type Verifier struct {
	rules map[model.ProviderType]Rule
}

func New(rules map[model.ProviderType]Rule) *Verifier {
	copied := make(map[model.ProviderType]Rule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Verifier{rules: copied}
}

// Verify authenticates req for provider. It must be called on the raw body,
// before JSON decoding, because re-serialization is not byte-identical.
func (v *Verifier) Verify(provider model.ProviderType, req Request) error {
	rule, ok := v.rules[provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	provided := rule.lookup(req)

	switch rule.Method {
	case MethodHMAC:
		return VerifyHMAC(rule.Secret, rule.Prefix, req.Body, provided)
	case MethodSharedSecret:
		return VerifySharedSecret(rule.Secret, provided)
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrUnknownProvider, rule.Method)
	}
}

// Handshake answers a subscription challenge. It returns the challenge to echo
// only when mode is "subscribe" and the token matches the configured one.
func (v *Verifier) Handshake(provider model.ProviderType, h Handshake) (string, error) {
	rule, ok := v.rules[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if rule.VerifyToken == "" {
		return "", ErrHandshakeRejected
	}
	if h.Mode != "subscribe" {
		return "", ErrHandshakeRejected
	}
	if subtle.ConstantTimeCompare([]byte(rule.VerifyToken), []byte(h.Token)) != 1 {
		return "", ErrHandshakeRejected
	}
	return h.Challenge, nil
}

func (r Rule) lookup(req Request) string {
	for _, name := range r.Headers {
		if value := req.Header.Get(name); value != "" {
			return value
		}
	}
	if r.QueryParam != "" && req.Query != nil {
		return req.Query.Get(r.QueryParam)
	}
	return ""
}

// Sign returns prefix + hex(HMAC-SHA256(secret, body)).
func Sign(secret, prefix string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks signature against the HMAC of body.
func VerifyHMAC(secret, prefix string, body []byte, signature string) error {
	if secret == "" {
		return ErrNotConfigured
	}
	if signature == "" {
		return ErrMissingSignature
	}
	expected := Sign(secret, prefix, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifySharedSecret compares provided to configured. An empty configured
// secret is an explicit operator opt-out.
func VerifySharedSecret(configured, provided string) error {
	if configured == "" {
		return nil
	}
	if provided == "" {
		return ErrMissingSignature
	}
	if subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) != 1 {
		return ErrInvalidSecret
	}
	return nil
}

// IsAuthError reports whether err should be answered as unauthorized.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInvalidSecret) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrHandshakeRejected)
}
