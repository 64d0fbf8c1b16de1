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
	"autoflow.app/relay/internal/mailbox"
)

var _ = Describe("MailboxHandler", func() {
	var (
		router *gin.Engine
		svc    *mockMailboxService
	)

	BeforeEach(func() {
		svc = &mockMailboxService{}
		h := handler.NewMailboxHandler(svc, newVerifier())
		router = gin.New()
		router.GET("/webhooks/mailbox", h.Verify)
		router.POST("/webhooks/mailbox", h.Push)
	})

	push := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/mailbox?"+query, strings.NewReader(`{"message":{"data":"e30="}}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("answers the verification GET", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/mailbox", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("hands authenticated pushes to the service", func() {
		svc.handlePushFn = func(context.Context, []byte) (*mailbox.Report, error) {
			return &mailbox.Report{Subscriptions: []mailbox.SubscriptionResult{{SubscriptionID: 1, Dispatched: 2}}}, nil
		}

		w := push("token=" + mailboxToken)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(svc.calls).To(Equal(1))
	})

	It("acknowledges even when the sync fails", func() {
		svc.handlePushFn = func(context.Context, []byte) (*mailbox.Report, error) {
			return nil, mailbox.ErrInvalidPush
		}
		Expect(push("token=" + mailboxToken).Code).To(Equal(http.StatusOK))

		svc.handlePushFn = func(context.Context, []byte) (*mailbox.Report, error) {
			return &mailbox.Report{Subscriptions: []mailbox.SubscriptionResult{{SubscriptionID: 1, Err: errors.New("history gone")}}}, nil
		}
		Expect(push("token=" + mailboxToken).Code).To(Equal(http.StatusOK))
	})

	It("rejects pushes with a bad token", func() {
		w := push("token=nope")

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(svc.calls).To(Equal(0))
	})
})
