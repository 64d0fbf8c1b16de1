package service

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/model"
)

// DispatchSummary counts per-registration outcomes of one inbound event.
type DispatchSummary struct {
	Matched    int
	Dispatched int
	Duplicates int
	Failed     int
}

// dispatchFunc builds the dedup key and payload for one matched registration.
type dispatchFunc func(reg model.TriggerRegistration) (dedupKey string, payload any)

// dispatchMatched dispatches every registration independently with bounded
// concurrency. One registration failing never aborts the others.
func dispatchMatched(ctx context.Context, d dispatch.Dispatcher, limit int, regs []model.TriggerRegistration, build dispatchFunc) DispatchSummary {
	var (
		g                 errgroup.Group
		ok, dupes, failed atomic.Int64
	)
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for _, reg := range regs {
		g.Go(func() error {
			regCtx := logger.WithLogFields(ctx, logger.LogFields{
				TriggerID:  &reg.ID,
				WorkflowID: &reg.WorkflowID,
			})
			if regCtx.Err() != nil {
				failed.Add(1)
				return nil
			}

			key, payload := build(reg)
			res, err := d.Dispatch(regCtx, reg.WorkflowID, key, payload)
			if err != nil {
				failed.Add(1)
				slog.WarnContext(regCtx, "dispatch failed for matched trigger", "error", err)
				return nil
			}
			if res.Duplicate {
				dupes.Add(1)
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return DispatchSummary{
		Matched:    len(regs),
		Dispatched: int(ok.Load()),
		Duplicates: int(dupes.Load()),
		Failed:     int(failed.Load()),
	}
}

// triggerPayload is the provider-tagged initialData of a matched trigger.
func triggerPayload(reg model.TriggerRegistration, event model.InboundEvent) map[string]any {
	return map[string]any{
		"provider":  event.Provider,
		"event":     event,
		"triggerId": reg.ID,
		"nodeId":    reg.NodeID,
	}
}
