package service_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/service"
	"autoflow.app/relay/internal/trigger"
)

func chatReg(id int64, workflowID, config string) model.TriggerRegistration {
	return model.TriggerRegistration{
		ID:            id,
		WorkflowID:    workflowID,
		NodeID:        "node-" + workflowID,
		ProviderType:  model.ProviderChatMessage,
		OwnerID:       "owner-1",
		Configuration: json.RawMessage(config),
	}
}

var _ = Describe("ChatService", func() {
	var (
		ctx        context.Context
		triggers   *mockTriggerStore
		dispatcher *mockDispatcher
		svc        service.ChatService
		msg        service.ChatMessage
	)

	BeforeEach(func() {
		ctx = context.Background()
		triggers = &mockTriggerStore{}
		dispatcher = newMockDispatcher()

		matcher, err := trigger.NewMatcher(&mockAccounts{})
		Expect(err).NotTo(HaveOccurred())
		svc = service.NewChatService(triggers, matcher, dispatcher, 2)

		msg = service.ChatMessage{
			GuildID:        "g1",
			ChannelID:      "c1",
			MessageID:      "m-100",
			Content:        "please DEPLOY the build",
			AuthorID:       "u1",
			AuthorUsername: "ana",
			Raw:            json.RawMessage(`{"id":"m-100"}`),
		}
	})

	It("dispatches only the registrations whose predicates hold", func() {
		triggers.regs = []model.TriggerRegistration{
			chatReg(1, "wf-deploy", `{"channelId":"c1","keywordFilters":["deploy"]}`),
			chatReg(2, "wf-other-channel", `{"channelId":"c2"}`),
			chatReg(3, "wf-all", `{"keywordFilters":["deploy","rollback"],"keywordMatchMode":"all"}`),
			chatReg(4, "wf-any", `{}`),
		}

		summary, err := svc.Process(ctx, msg)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Matched).To(Equal(2))
		Expect(summary.Dispatched).To(Equal(2))
		Expect(dispatcher.workflows()).To(Equal([]string{"wf-any", "wf-deploy"}))
		Expect(dispatcher.keys()).To(ContainElement("webhook:wf-deploy:m-100"))
		Expect(triggers.listedProvider).To(Equal([]model.ProviderType{model.ProviderChatMessage}))
	})

	It("tags the payload with the provider and the triggering node", func() {
		triggers.regs = []model.TriggerRegistration{chatReg(7, "wf-1", `{}`)}

		_, err := svc.Process(ctx, msg)
		Expect(err).NotTo(HaveOccurred())

		Expect(dispatcher.calls).To(HaveLen(1))
		payload, ok := dispatcher.calls[0].Payload.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(payload).To(HaveKeyWithValue("provider", model.ProviderChatMessage))
		Expect(payload).To(HaveKeyWithValue("triggerId", int64(7)))
		Expect(payload).To(HaveKeyWithValue("nodeId", "node-wf-1"))
		event, ok := payload["event"].(model.InboundEvent)
		Expect(ok).To(BeTrue())
		Expect(event.Text).To(Equal(msg.Content))
		Expect(event.Timestamp.IsZero()).To(BeFalse())
	})

	It("ignores bot authors and direct messages unless allowed", func() {
		triggers.regs = []model.TriggerRegistration{
			chatReg(1, "wf-strict", `{}`),
			chatReg(2, "wf-open", `{"allowDirectMessages":true,"includeBotAuthors":true}`),
		}
		msg.IsBot = true
		msg.IsDM = true

		summary, err := svc.Process(ctx, msg)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Dispatched).To(Equal(1))
		Expect(dispatcher.workflows()).To(Equal([]string{"wf-open"}))
	})

	It("skips malformed registrations without failing the message", func() {
		triggers.regs = []model.TriggerRegistration{
			chatReg(1, "wf-bad", `{"keywordMatchMode":"sometimes"}`),
			chatReg(2, "wf-good", `{}`),
		}

		summary, err := svc.Process(ctx, msg)

		Expect(err).NotTo(HaveOccurred())
		Expect(dispatcher.workflows()).To(Equal([]string{"wf-good"}))
		Expect(summary.Matched).To(Equal(1))
	})

	It("keeps dispatching after one registration fails", func() {
		triggers.regs = []model.TriggerRegistration{
			chatReg(1, "wf-a", `{}`),
			chatReg(2, "wf-b", `{}`),
			chatReg(3, "wf-c", `{}`),
		}
		dispatcher.fail["wf-b"] = errors.New("redis down")

		summary, err := svc.Process(ctx, msg)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Matched).To(Equal(3))
		Expect(summary.Dispatched).To(Equal(2))
		Expect(summary.Failed).To(Equal(1))
	})

	It("reports redelivered messages as duplicates", func() {
		triggers.regs = []model.TriggerRegistration{chatReg(1, "wf-1", `{}`)}

		first, err := svc.Process(ctx, msg)
		Expect(err).NotTo(HaveOccurred())
		second, err := svc.Process(ctx, msg)
		Expect(err).NotTo(HaveOccurred())

		Expect(first.Duplicates).To(Equal(0))
		Expect(second.Duplicates).To(Equal(1))
		Expect(second.Dispatched).To(Equal(1))
	})

	It("returns store failures", func() {
		triggers.listErr = errors.New("connection refused")

		_, err := svc.Process(ctx, msg)

		Expect(err).To(MatchError(ContainSubstring("connection refused")))
		Expect(dispatcher.calls).To(BeEmpty())
	})
})
