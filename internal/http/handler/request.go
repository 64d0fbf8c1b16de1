package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/verify"
)

// maxBodyBytes caps every inbound webhook body.
const maxBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// RequestVerifier authenticates inbound requests; *verify.Verifier satisfies it.
type RequestVerifier interface {
	Verify(provider model.ProviderType, req verify.Request) error
	Handshake(provider model.ProviderType, h verify.Handshake) (string, error)
}

// readBody returns the raw body. Signatures are computed over these exact
// bytes, so it must run before any binding.
func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return body, nil
}

func verifyRequest(c *gin.Context, v RequestVerifier, provider model.ProviderType, body []byte) error {
	return v.Verify(provider, verify.Request{
		Header: c.Request.Header,
		Query:  c.Request.URL.Query(),
		Body:   body,
	})
}

// verifyStatus answers failed authentication with 401. Anything else, such as
// a provider without a verification rule, is a server fault.
func verifyStatus(err error) (int, string) {
	if verify.IsAuthError(err) {
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusInternalServerError, "internal error"
}

// flatten keeps the first value per key, lowercasing header names.
func flatten(values map[string][]string, lower bool, skip ...string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) == 0 {
			continue
		}
		if lower {
			k = strings.ToLower(k)
		}
		if slices.Contains(skip, k) {
			continue
		}
		out[k] = v[0]
	}
	return out
}
