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
)

var _ = Describe("WebhookHandler", func() {
	var (
		router *gin.Engine
		svc    *mockWebhookService
	)

	BeforeEach(func() {
		svc = &mockWebhookService{}
		router = gin.New()
		router.POST("/webhooks/generic", handler.NewWebhookHandler(svc, newVerifier()).Receive)
	})

	send := func(target, body string, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header[k] = v
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("forwards the request without its secret headers", func() {
		var got service.GenericWebhook
		svc.receiveFn = func(_ context.Context, hook service.GenericWebhook) (*service.WebhookResult, error) {
			got = hook
			return &service.WebhookResult{DedupKey: "k"}, nil
		}

		w := send("/webhooks/generic?workflowId=wf-1&nodeId=n-1&extra=yes", `{"id":"evt-1"}`, http.Header{
			"X-Webhook-Secret": {webhookSecret},
			"X-Source":         {"crm"},
		})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"success":true}`))
		Expect(got.WorkflowID).To(Equal("wf-1"))
		Expect(got.NodeID).To(Equal("n-1"))
		Expect(got.Method).To(Equal(http.MethodPost))
		Expect(got.ContentType).To(Equal("application/json"))
		Expect(got.Headers).To(HaveKeyWithValue("x-source", "crm"))
		Expect(got.Headers).NotTo(HaveKey("x-webhook-secret"))
		Expect(got.Query).To(HaveKeyWithValue("extra", "yes"))
		Expect(string(got.Body)).To(Equal(`{"id":"evt-1"}`))
	})

	It("accepts the signature header as the shared secret", func() {
		w := send("/webhooks/generic?workflowId=wf-1", `{}`, http.Header{"X-Webhook-Signature": {webhookSecret}})

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("returns 401 on a bad secret", func() {
		w := send("/webhooks/generic?workflowId=wf-1", `{}`, http.Header{"X-Webhook-Secret": {"wrong"}})

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	DescribeTable("maps service errors",
		func(err error, status int) {
			svc.receiveFn = func(context.Context, service.GenericWebhook) (*service.WebhookResult, error) {
				return nil, err
			}
			w := send("/webhooks/generic", `{}`, http.Header{"X-Webhook-Secret": {webhookSecret}})
			Expect(w.Code).To(Equal(status))
		},
		Entry("missing workflow", service.ErrMissingWorkflowID, http.StatusBadRequest),
		Entry("bad body", service.ErrInvalidBody, http.StatusBadRequest),
		Entry("dispatch failure", errors.New("queue down"), http.StatusInternalServerError),
	)
})
