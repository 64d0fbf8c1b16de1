package mailbox_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autoflow.app/relay/internal/mailbox"
)

var _ = Describe("HTTP client", func() {
	var (
		ctx    context.Context
		mux    *http.ServeMux
		client mailbox.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)
		client = mailbox.NewHTTPClient(server.URL+"/", server.Client())
	})

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	It("pages through history and collapses repeated message ids", func() {
		mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer tok"))
			Expect(r.URL.Query().Get("startHistoryId")).To(Equal("100"))
			Expect(r.URL.Query().Get("historyTypes")).To(Equal("messageAdded"))

			if r.URL.Query().Get("pageToken") == "" {
				writeJSON(w, map[string]any{
					"history": []any{
						map[string]any{"id": "101", "messagesAdded": []any{
							map[string]any{"message": map[string]any{"id": "m1", "threadId": "t1", "labelIds": []string{"INBOX"}}},
						}},
						map[string]any{"id": "102", "messagesAdded": []any{
							map[string]any{"message": map[string]any{"id": "m1", "threadId": "t1"}},
							map[string]any{"message": map[string]any{"id": "m2", "threadId": "t2"}},
						}},
					},
					"nextPageToken": "p2",
					"historyId":     "105",
				})
				return
			}
			writeJSON(w, map[string]any{
				"history": []any{
					map[string]any{"id": "104", "messagesAdded": []any{
						map[string]any{"message": map[string]any{"id": "m2"}},
						map[string]any{"message": map[string]any{"id": "m3"}},
					}},
				},
				"historyId": "110",
			})
		})

		h, err := client.ListHistory(ctx, "tok", "100")
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Cursor).To(Equal("110"))
		Expect(h.Items).To(HaveLen(3))
		Expect([]string{h.Items[0].ID, h.Items[1].ID, h.Items[2].ID}).To(Equal([]string{"m1", "m2", "m3"}))
		Expect(h.Items[0].LabelIDs).To(Equal([]string{"INBOX"}))
	})

	It("accepts numeric history ids", func() {
		mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]any{"historyId": 12345})
		})

		h, err := client.ListHistory(ctx, "tok", "100")
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Cursor).To(Equal("12345"))
		Expect(h.Items).To(BeEmpty())
	})

	It("reports an expired cursor as a history failure", func() {
		mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":{"code":404}}`, http.StatusNotFound)
		})

		_, err := client.ListHistory(ctx, "tok", "1")
		Expect(err).To(MatchError(mailbox.ErrHistoryFetch))
		Expect(err).To(MatchError(mailbox.ErrCursorExpired))
	})

	It("reports server errors as history failures", func() {
		mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := client.ListHistory(ctx, "tok", "1")
		Expect(err).To(MatchError(mailbox.ErrHistoryFetch))
		Expect(err).NotTo(MatchError(mailbox.ErrCursorExpired))
	})

	It("fetches message metadata", func() {
		mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Query().Get("format")).To(Equal("metadata"))
			writeJSON(w, map[string]any{
				"id":           "m1",
				"threadId":     "t1",
				"labelIds":     []string{"INBOX"},
				"snippet":      "see attached",
				"internalDate": "1767225600000",
				"payload": map[string]any{"headers": []any{
					map[string]any{"name": "From", "value": "Ann <ann@example.com>"},
					map[string]any{"name": "subject", "value": "Invoice"},
					map[string]any{"name": "To", "value": "alice@example.com"},
				}},
			})
		})

		msg, err := client.GetMessage(ctx, "tok", "m1")
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.From).To(Equal("Ann <ann@example.com>"))
		Expect(msg.Subject).To(Equal("Invoice"))
		Expect(msg.To).To(Equal("alice@example.com"))
		Expect(msg.Snippet).To(Equal("see attached"))
		Expect(msg.ReceivedAt).To(Equal(time.UnixMilli(1767225600000).UTC()))
		Expect(msg.Raw).NotTo(BeEmpty())
	})

	It("renews a watch", func() {
		mux.HandleFunc("/gmail/v1/users/me/watch", func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			var body map[string]any
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			Expect(body["topicName"]).To(Equal("projects/p/topics/t"))
			Expect(body["labelFilterBehavior"]).To(Equal("include"))
			writeJSON(w, map[string]any{"historyId": "200", "expiration": "1893456000000"})
		})

		res, err := client.Watch(ctx, "tok", "projects/p/topics/t", []string{"INBOX"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Cursor).To(Equal("200"))
		Expect(res.ExpiresAt).To(Equal(time.UnixMilli(1893456000000).UTC()))
	})
})
