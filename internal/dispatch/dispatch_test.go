package dispatch_test

import (
	"context"
	"errors"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/queue"
)

type fakeProducer struct {
	seen     map[string]bool
	enqueued []queue.ExecutionMessage
	err      error
}

func (f *fakeProducer) Enqueue(_ context.Context, msg queue.ExecutionMessage) error {
	if f.err != nil {
		return f.err
	}
	if msg.DedupKey != "" {
		if f.seen[msg.DedupKey] {
			return queue.ErrDuplicate
		}
		f.seen[msg.DedupKey] = true
	}
	f.enqueued = append(f.enqueued, msg)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

var _ = Describe("Dispatcher", func() {
	var (
		ctx      context.Context
		producer *fakeProducer
		d        dispatch.Dispatcher
		next     int
	)

	BeforeEach(func() {
		ctx = context.Background()
		producer = &fakeProducer{seen: map[string]bool{}}
		next = 0
		d = dispatch.New(producer, dispatch.WithIDFunc(func() string {
			next++
			return strconv.Itoa(next)
		}))
	})

	It("enqueues one command carrying the dedup key and payload", func() {
		res, err := d.Dispatch(ctx, "wf-1", "webhook:wf-1:evt-42", map[string]any{"provider": "generic-webhook"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(dispatch.Result{CommandID: "1"}))

		Expect(producer.enqueued).To(HaveLen(1))
		msg := producer.enqueued[0]
		Expect(msg.WorkflowID).To(Equal("wf-1"))
		Expect(msg.DedupKey).To(Equal("webhook:wf-1:evt-42"))
		Expect(msg.Attempt).To(Equal(1))
		Expect(string(msg.InitialData)).To(MatchJSON(`{"provider":"generic-webhook"}`))
	})

	It("collapses a second submission with the same key", func() {
		_, err := d.Dispatch(ctx, "wf-1", "k", map[string]any{})
		Expect(err).NotTo(HaveOccurred())

		res, err := d.Dispatch(ctx, "wf-1", "k", map[string]any{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Duplicate).To(BeTrue())
		Expect(producer.enqueued).To(HaveLen(1))
	})

	It("wraps queue failures as rejections", func() {
		producer.err = errors.New("redis down")
		_, err := d.Dispatch(ctx, "wf-1", "k", map[string]any{})
		Expect(err).To(MatchError(dispatch.ErrRejected))
		Expect(err.Error()).To(ContainSubstring("redis down"))
	})

	It("rejects an empty workflow id", func() {
		_, err := d.Dispatch(ctx, "", "k", nil)
		Expect(err).To(MatchError(dispatch.ErrRejected))
		Expect(producer.enqueued).To(BeEmpty())
	})

	It("rejects payloads that cannot be encoded", func() {
		_, err := d.Dispatch(ctx, "wf-1", "k", map[string]any{"ch": make(chan int)})
		Expect(err).To(MatchError(dispatch.ErrRejected))
	})
})
