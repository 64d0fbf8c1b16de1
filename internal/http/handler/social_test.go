package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autoflow.app/relay/internal/http/handler"
	"autoflow.app/relay/internal/service"
	"autoflow.app/relay/internal/verify"
)

var _ = Describe("SocialHandler", func() {
	var (
		router *gin.Engine
		svc    *mockSocialService
	)

	BeforeEach(func() {
		svc = &mockSocialService{}
		h := handler.NewSocialHandler(svc, newVerifier())
		router = gin.New()
		router.GET("/webhooks/social", h.Verify)
		router.POST("/webhooks/social", h.Receive)
	})

	get := func(query string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/social?"+query, nil))
		return w
	}

	post := func(body, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/social", strings.NewReader(body))
		if signature != "" {
			req.Header.Set("X-Hub-Signature-256", signature)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("handshake", func() {
		It("echoes the challenge for a matching token", func() {
			w := get("hub.mode=subscribe&hub.verify_token=" + socialToken + "&hub.challenge=12345")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("12345"))
		})

		It("returns 403 for a wrong token or mode", func() {
			Expect(get("hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1").Code).To(Equal(http.StatusForbidden))
			Expect(get("hub.mode=unsubscribe&hub.verify_token=" + socialToken + "&hub.challenge=1").Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("delivery", func() {
		body := `{"object":"page","entry":[]}`

		It("processes signed bodies", func() {
			var got []byte
			svc.processFn = func(_ context.Context, b []byte) (service.DispatchSummary, error) {
				got = b
				return service.DispatchSummary{}, nil
			}

			w := post(body, verify.Sign(appSecret, "sha256=", []byte(body)))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(string(got)).To(Equal(body))
		})

		It("returns 401 when the signature does not match the raw body", func() {
			w := post(body+" ", verify.Sign(appSecret, "sha256=", []byte(body)))

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(svc.calls).To(Equal(0))
		})

		It("returns 401 without a signature", func() {
			Expect(post(body, "").Code).To(Equal(http.StatusUnauthorized))
		})

		It("still answers 200 when processing fails", func() {
			svc.processFn = func(context.Context, []byte) (service.DispatchSummary, error) {
				return service.DispatchSummary{}, errors.New("boom")
			}

			w := post(body, verify.Sign(appSecret, "sha256=", []byte(body)))

			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})
})
