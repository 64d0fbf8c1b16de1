package service_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/service"
	"autoflow.app/relay/internal/trigger"
)

func socialReg(id int64, workflowID string, provider model.ProviderType, config string) model.TriggerRegistration {
	return model.TriggerRegistration{
		ID:            id,
		WorkflowID:    workflowID,
		ProviderType:  provider,
		OwnerID:       "owner-1",
		Configuration: json.RawMessage(config),
	}
}

const socialDMBody = `{
  "object": "page",
  "entry": [{
    "id": "page-1",
    "time": 1700000000000,
    "messaging": [
      {"sender": {"id": "user-9"}, "recipient": {"id": "page-1"}, "timestamp": 1700000000000,
       "message": {"mid": "mid.1", "text": "What is the PRICE?"}},
      {"sender": {"id": "page-1"}, "recipient": {"id": "user-9"}, "timestamp": 1700000000500,
       "message": {"mid": "mid.2", "text": "price list attached", "is_echo": true}}
    ]
  }]
}`

const socialCommentBody = `{
  "object": "page",
  "entry": [{
    "id": "page-1",
    "time": 1700000000,
    "changes": [
      {"field": "feed", "value": {"item": "comment", "verb": "add", "comment_id": "c-1", "post_id": "post-1",
       "message": "more info please", "from": {"id": "user-9", "name": "Ana"}, "created_time": 1700000000}},
      {"field": "feed", "value": {"item": "comment", "verb": "add", "comment_id": "c-2", "post_id": "post-1",
       "message": "info in bio", "from": {"id": "page-1", "name": "Page"}}},
      {"field": "feed", "value": {"item": "reaction", "verb": "add", "post_id": "post-1", "from": {"id": "user-3"}}}
    ]
  }]
}`

var _ = Describe("SocialService", func() {
	var (
		ctx        context.Context
		triggers   *mockTriggerStore
		dispatcher *mockDispatcher
		accounts   *mockAccounts
		svc        service.SocialService
	)

	BeforeEach(func() {
		ctx = context.Background()
		triggers = &mockTriggerStore{}
		dispatcher = newMockDispatcher()
		accounts = &mockAccounts{accounts: map[string]string{"cred-1": "page-1", "cred-2": "page-2"}}

		matcher, err := trigger.NewMatcher(accounts)
		Expect(err).NotTo(HaveOccurred())
		svc = service.NewSocialService(triggers, matcher, dispatcher, 4)
	})

	It("routes direct messages by mode, keywords and bound page", func() {
		triggers.regs = []model.TriggerRegistration{
			socialReg(1, "wf-dm", model.ProviderSocialDM, `{"credentialId":"cred-1","triggerMode":"dm","dmKeywordFilters":["price"]}`),
			socialReg(2, "wf-comments-only", model.ProviderSocialComment, `{"credentialId":"cred-1","triggerMode":"comment"}`),
			socialReg(3, "wf-other-page", model.ProviderSocialDM, `{"credentialId":"cred-2","triggerMode":"both"}`),
			socialReg(4, "wf-legacy", model.ProviderSocialDM, `{"credentialId":"cred-1","keywordFilters":["price"]}`),
		}

		summary, err := svc.Process(ctx, []byte(socialDMBody))

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Dispatched).To(Equal(2))
		Expect(dispatcher.workflows()).To(Equal([]string{"wf-dm", "wf-legacy"}))
		Expect(dispatcher.keys()).To(ContainElement("webhook:wf-dm:mid.1"))
		Expect(triggers.listedProvider).To(ConsistOf(model.ProviderSocialDM, model.ProviderSocialComment))
	})

	It("routes new comments from other users and honours post scope", func() {
		triggers.regs = []model.TriggerRegistration{
			socialReg(1, "wf-scoped", model.ProviderSocialComment, `{"credentialId":"cred-1","triggerMode":"comment","postScope":"post-1","commentKeywordFilters":["info"]}`),
			socialReg(2, "wf-wrong-post", model.ProviderSocialComment, `{"credentialId":"cred-1","triggerMode":"both","postScope":"post-2"}`),
			socialReg(3, "wf-dm-only", model.ProviderSocialDM, `{"credentialId":"cred-1","triggerMode":"dm"}`),
		}

		summary, err := svc.Process(ctx, []byte(socialCommentBody))

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Dispatched).To(Equal(1))
		Expect(dispatcher.keys()).To(Equal([]string{"webhook:wf-scoped:c-1"}))

		payload := dispatcher.calls[0].Payload.(map[string]any)
		event := payload["event"].(model.InboundEvent)
		Expect(event.Provider).To(Equal(model.ProviderSocialComment))
		Expect(event.PostID).To(Equal("post-1"))
		Expect(event.SenderName).To(Equal("Ana"))
		Expect(event.RecipientID).To(Equal("page-1"))
	})

	It("resolves each credential once per event", func() {
		triggers.regs = []model.TriggerRegistration{
			socialReg(1, "wf-a", model.ProviderSocialDM, `{"credentialId":"cred-1","triggerMode":"dm"}`),
			socialReg(2, "wf-b", model.ProviderSocialDM, `{"credentialId":"cred-1","triggerMode":"both"}`),
		}

		_, err := svc.Process(ctx, []byte(socialDMBody))

		Expect(err).NotTo(HaveOccurred())
		Expect(accounts.calls).To(Equal(1))
		Expect(dispatcher.calls).To(HaveLen(2))
	})

	It("does nothing for payloads without actionable events", func() {
		summary, err := svc.Process(ctx, []byte(`{"object":"page","entry":[{"id":"page-1","changes":[]}]}`))

		Expect(err).NotTo(HaveOccurred())
		Expect(summary).To(Equal(service.DispatchSummary{}))
		Expect(triggers.listedProvider).To(BeEmpty())
	})

	It("rejects malformed payloads", func() {
		_, err := svc.Process(ctx, []byte(`{"entry":`))

		Expect(err).To(MatchError(service.ErrInvalidSocialPayload))
	})
})
