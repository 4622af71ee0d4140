package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InlineEnqueuer runs submission work in-process instead of on the task
// queue. Used in development and tests where Redis is not configured; task
// loss on crash is acceptable because the sweeper reconciles on restart.
type InlineEnqueuer struct {
	orch *Orchestrator
}

func NewInlineEnqueuer() *InlineEnqueuer {
	return &InlineEnqueuer{}
}

// Bind attaches the orchestrator after construction; the orchestrator itself
// needs an Enqueuer at build time.
func (e *InlineEnqueuer) Bind(orch *Orchestrator) {
	e.orch = orch
}

func (e *InlineEnqueuer) EnqueueDispatch(_ context.Context, filingID uuid.UUID) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := e.orch.Dispatch(ctx, filingID); err != nil {
			e.orch.logger.Error("inline dispatch failed", "filing_id", filingID, "error", err)
		}
	}()
	return nil
}

func (e *InlineEnqueuer) EnqueueAckPoll(_ context.Context, filingID uuid.UUID, attempt int, delay time.Duration) error {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := e.orch.PollAck(ctx, filingID, attempt); err != nil {
			e.orch.logger.Error("inline ack poll failed", "filing_id", filingID, "error", err)
		}
	})
	return nil
}
