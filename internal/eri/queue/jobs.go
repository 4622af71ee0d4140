// Package queue defines the background tasks behind gateway submission.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// DispatchTask carries one filing to the gateway.
	DispatchTask = "eri:dispatch"
	// AckPollTask checks the gateway for an acknowledgment.
	AckPollTask = "eri:ack_poll"
	// SweepTask fails submissions whose background work was lost.
	SweepTask = "eri:sweep"
)

// QueueSubmissions isolates gateway traffic from the default queue so a
// gateway outage cannot starve other work.
const QueueSubmissions = "submissions"

// DispatchPayload identifies the filing to dispatch.
type DispatchPayload struct {
	FilingID uuid.UUID `json:"filing_id"`
}

// AckPollPayload carries the poll attempt count so the re-enqueue delay can
// keep growing across deliveries.
type AckPollPayload struct {
	FilingID uuid.UUID `json:"filing_id"`
	Attempt  int       `json:"attempt"`
}

// Client enqueues submission tasks. It satisfies orchestrator.Enqueuer.
type Client struct {
	asynq *asynq.Client
}

func NewClient(a *asynq.Client) *Client {
	return &Client{asynq: a}
}

// EnqueueDispatch schedules the gateway dispatch for a filing. Retry is
// handled inside the task, so a failed delivery is not retried by the queue
// beyond redelivery of crashes.
func (c *Client) EnqueueDispatch(ctx context.Context, filingID uuid.UUID) error {
	data, err := json.Marshal(DispatchPayload{FilingID: filingID})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	task := asynq.NewTask(DispatchTask, data)
	if _, err := c.asynq.EnqueueContext(ctx, task,
		asynq.Queue(QueueSubmissions),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	); err != nil {
		return fmt.Errorf("enqueue dispatch task: %w", err)
	}
	return nil
}

// EnqueueAckPoll schedules an acknowledgment poll after the given delay.
func (c *Client) EnqueueAckPoll(ctx context.Context, filingID uuid.UUID, attempt int, delay time.Duration) error {
	data, err := json.Marshal(AckPollPayload{FilingID: filingID, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("marshal ack poll payload: %w", err)
	}
	task := asynq.NewTask(AckPollTask, data)
	if _, err := c.asynq.EnqueueContext(ctx, task,
		asynq.Queue(QueueSubmissions),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	); err != nil {
		return fmt.Errorf("enqueue ack poll task: %w", err)
	}
	return nil
}

// EnqueueSweep schedules one sweep of stuck submissions.
func (c *Client) EnqueueSweep(ctx context.Context) error {
	task := asynq.NewTask(SweepTask, nil)
	if _, err := c.asynq.EnqueueContext(ctx, task,
		asynq.Queue(QueueSubmissions),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
	); err != nil {
		return fmt.Errorf("enqueue sweep task: %w", err)
	}
	return nil
}
