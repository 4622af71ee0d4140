// Package worker plugs the submission orchestrator into the asynq loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"taxdesk/internal/eri/orchestrator"
	"taxdesk/internal/eri/queue"
)

// DispatchWindow is how long a claimed submission may sit without a gateway
// correlation id before the sweeper fails it.
const DispatchWindow = 30 * time.Minute

// Processor handles the submission task types.
type Processor struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func NewProcessor(orch *orchestrator.Orchestrator, logger *slog.Logger) *Processor {
	return &Processor{orch: orch, logger: logger}
}

// Handler registers all submission task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.DispatchTask, p.handleDispatch)
	mux.HandleFunc(queue.AckPollTask, p.handleAckPoll)
	mux.HandleFunc(queue.SweepTask, p.handleSweep)
	return mux
}

func (p *Processor) handleDispatch(ctx context.Context, task *asynq.Task) error {
	var payload queue.DispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode dispatch payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.orch.Dispatch(ctx, payload.FilingID); err != nil {
		p.logger.ErrorContext(ctx, "dispatch task failed", "filing_id", payload.FilingID, "error", err)
		return err
	}
	return nil
}

func (p *Processor) handleAckPoll(ctx context.Context, task *asynq.Task) error {
	var payload queue.AckPollPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode ack poll payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.orch.PollAck(ctx, payload.FilingID, payload.Attempt); err != nil {
		p.logger.ErrorContext(ctx, "ack poll task failed",
			"filing_id", payload.FilingID, "attempt", payload.Attempt, "error", err)
		return err
	}
	return nil
}

func (p *Processor) handleSweep(ctx context.Context, _ *asynq.Task) error {
	return p.orch.Sweep(ctx, DispatchWindow)
}
