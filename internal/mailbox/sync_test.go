package mailbox_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autoflow.app/relay/internal/credential"
	"autoflow.app/relay/internal/mailbox"
	"autoflow.app/relay/internal/model"
)

var _ = Describe("Syncer", func() {
	var (
		ctx        context.Context
		subs       *fakeSubs
		creds      *fakeCreds
		client     *fakeClient
		dispatcher *fakeDispatcher
		syncer     *mailbox.Syncer
		notice     mailbox.Notification
	)

	items := func(ids ...string) []mailbox.HistoryItem {
		out := make([]mailbox.HistoryItem, 0, len(ids))
		for _, id := range ids {
			out = append(out, mailbox.HistoryItem{ID: id, LabelIDs: []string{"INBOX"}})
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		future := time.Now().Add(72 * time.Hour)
		past := time.Now().Add(-time.Hour)
		subs = newFakeSubs(
			model.ChangeSubscription{ID: 1, CredentialID: "cred-a", OwnerID: "o", WorkflowID: "wf-1", LastCursor: "100", ExpiresAt: &future},
			model.ChangeSubscription{ID: 2, CredentialID: "cred-b", OwnerID: "o", WorkflowID: "wf-2", LastCursor: "100", ExpiresAt: &future},
			model.ChangeSubscription{ID: 3, CredentialID: "cred-a", OwnerID: "o", WorkflowID: "wf-3", LastCursor: "100", ExpiresAt: &past},
		)
		creds = &fakeCreds{
			accounts: map[string]string{"cred-a": "Alice@Example.com", "cred-b": "bob@example.com"},
			resolve:  map[string]error{},
		}
		client = &fakeClient{history: map[string]*mailbox.History{}, failMessage: map[string]bool{}}
		dispatcher = &fakeDispatcher{fail: map[string]bool{}}
		syncer = mailbox.NewSyncer(subs, &fakeTx{subs: subs}, creds, client, dispatcher, mailbox.SyncerConfig{Concurrency: 2})
		notice = mailbox.Notification{EmailAddress: "alice@example.com", HistoryID: "150"}
	})

	It("advances the cursor even when no new items were found", func() {
		client.history["token-cred-a"] = &mailbox.History{Cursor: "150"}

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions).To(HaveLen(1))
		Expect(report.Subscriptions[0].Advanced).To(BeTrue())
		Expect(subs.cursor(1)).To(Equal("150"))
		Expect(dispatcher.calls).To(BeEmpty())
	})

	It("dispatches the remaining items and advances when one item fails", func() {
		client.history["token-cred-a"] = &mailbox.History{Cursor: "160", Items: items("m1", "m2", "m3")}
		client.failMessage["m2"] = true

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(dispatcher.keys()).To(ConsistOf("webhook:wf-1:m1", "webhook:wf-1:m3"))
		Expect(report.Subscriptions[0].Dispatched).To(Equal(2))
		Expect(report.Subscriptions[0].Failed).To(Equal(1))
		Expect(subs.cursor(1)).To(Equal("160"))
	})

	It("advances past a poison item the dispatcher rejects", func() {
		client.history["token-cred-a"] = &mailbox.History{Cursor: "160", Items: items("m1", "m2", "m3")}
		dispatcher.fail["webhook:wf-1:m2"] = true

		_, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(dispatcher.keys()).To(ConsistOf("webhook:wf-1:m1", "webhook:wf-1:m3"))
		Expect(subs.cursor(1)).To(Equal("160"))
	})

	It("abandons the subscription without moving the cursor when history fails", func() {
		client.historyErr = errors.Join(mailbox.ErrHistoryFetch, errors.New("503"))

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions[0].IsAbandoned()).To(BeTrue())
		Expect(report.Subscriptions[0].Err).To(MatchError(mailbox.ErrHistoryFetch))
		Expect(subs.cursor(1)).To(Equal("100"))
		Expect(subs.updates).To(BeZero())
	})

	It("skips subscriptions whose credential is unusable", func() {
		creds.accountErr = map[string]error{"cred-a": credential.ErrMalformed}

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions).To(BeEmpty())
		Expect(subs.cursor(1)).To(Equal("100"))
	})

	It("reports subscriptions whose account could not be looked up", func() {
		creds.accountErr = map[string]error{"cred-b": errors.New("connection reset")}
		client.history["token-cred-a"] = &mailbox.History{Cursor: "150"}

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions).To(HaveLen(2))
		Expect(report.Subscriptions[0].SubscriptionID).To(Equal(int64(1)))
		Expect(report.Subscriptions[0].Advanced).To(BeTrue())
		Expect(report.Subscriptions[1].SubscriptionID).To(Equal(int64(2)))
		Expect(report.Subscriptions[1].IsAbandoned()).To(BeTrue())
		Expect(subs.cursor(2)).To(Equal("100"))
	})

	It("collapses duplicate item references", func() {
		client.history["token-cred-a"] = &mailbox.History{Cursor: "170", Items: items("m1", "m1", "m2", "m1")}

		_, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(dispatcher.keys()).To(ConsistOf("webhook:wf-1:m1", "webhook:wf-1:m2"))
	})

	It("ignores expired subscriptions and other accounts", func() {
		client.history["token-cred-a"] = &mailbox.History{Cursor: "150", Items: items("m1")}

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions).To(HaveLen(1))
		Expect(report.Subscriptions[0].SubscriptionID).To(Equal(int64(1)))
		Expect(subs.cursor(2)).To(Equal("100"))
		Expect(subs.cursor(3)).To(Equal("100"))
		for _, c := range dispatcher.calls {
			Expect(c.WorkflowID).To(Equal("wf-1"))
		}
	})

	It("never moves the cursor backwards", func() {
		client.history["token-cred-a"] = &mailbox.History{Cursor: "99"}

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions[0].Advanced).To(BeFalse())
		Expect(subs.cursor(1)).To(Equal("100"))
	})

	It("skips subscriptions whose credential cannot be resolved", func() {
		creds.resolve["cred-a"] = credential.ErrRefreshFailed

		report, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions[0].Err).To(MatchError(credential.ErrRefreshFailed))
		Expect(subs.cursor(1)).To(Equal("100"))
	})

	It("seeds an empty cursor from the notification", func() {
		sub, _ := subs.GetByID(ctx, 1)
		sub.LastCursor = ""
		subs.subs[1] = sub

		_, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(subs.cursor(1)).To(Equal("150"))
		Expect(client.fetched).To(BeEmpty())
	})

	It("filters items by scope labels", func() {
		sub, _ := subs.GetByID(ctx, 1)
		sub.ScopeLabels = []string{"Label_7"}
		subs.subs[1] = sub
		client.history["token-cred-a"] = &mailbox.History{Cursor: "150", Items: []mailbox.HistoryItem{
			{ID: "m1", LabelIDs: []string{"INBOX"}},
			{ID: "m2", LabelIDs: []string{"INBOX", "Label_7"}},
		}}

		_, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(dispatcher.keys()).To(ConsistOf("webhook:wf-1:m2"))
		Expect(subs.cursor(1)).To(Equal("150"))
	})

	It("does not advance when cancelled mid-batch", func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		client.history["token-cred-a"] = &mailbox.History{Cursor: "180", Items: items("m1", "m2", "m3", "m4", "m5")}
		client.onGet = func(id string) {
			if id == "m1" {
				cancel()
			}
		}

		report, err := syncer.HandleNotification(cctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Subscriptions).To(HaveLen(1))
		Expect(report.Subscriptions[0].Advanced).To(BeFalse())
		Expect(subs.cursor(1)).To(Equal("100"))
	})

	It("hands the dispatcher a mailbox-tagged payload", func() {
		client.history["token-cred-a"] = &mailbox.History{Cursor: "150", Items: items("m1")}

		_, err := syncer.HandleNotification(ctx, notice)
		Expect(err).NotTo(HaveOccurred())
		Expect(dispatcher.calls).To(HaveLen(1))
		payload, ok := dispatcher.calls[0].Payload.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(payload["provider"]).To(Equal(model.ProviderMailbox))
		Expect(payload["subscriptionId"]).To(Equal(int64(1)))
		event := payload["event"].(model.InboundEvent)
		Expect(event.EventID).To(Equal("m1"))
		Expect(event.Text).To(ContainSubstring("hello m1"))
	})
})
