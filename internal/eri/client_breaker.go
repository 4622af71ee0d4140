package eri

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"taxdesk/pkg/platform/circuit"
)

// ErrCircuitOpen reports that the breaker rejected the call without reaching
// the gateway. It is transient: the submission stays retryable.
var ErrCircuitOpen = errors.New("gateway circuit open")

// BreakerClient guards a gateway client with a circuit breaker. Repeated
// transient failures stop traffic to the gateway; while open, one probe call
// per interval is let through so the circuit can close again. Terminal
// rejections count as successful round trips, the gateway answered.
type BreakerClient struct {
	inner   Client
	breaker *circuit.Breaker
	logger  *slog.Logger

	mu            sync.Mutex
	lastProbe     time.Time
	probeInterval time.Duration
}

func NewBreakerClient(inner Client, breaker *circuit.Breaker, logger *slog.Logger) *BreakerClient {
	return &BreakerClient{
		inner:         inner,
		breaker:       breaker,
		logger:        logger,
		probeInterval: 30 * time.Second,
	}
}

func (c *BreakerClient) FileReturn(ctx context.Context, sub Submission) (*FileResult, error) {
	if !c.allow() {
		return nil, Transient(ErrCircuitOpen)
	}
	result, err := c.inner.FileReturn(ctx, sub)
	return result, c.record(ctx, err)
}

func (c *BreakerClient) CheckStatus(ctx context.Context, correlationID string) (*AckStatus, error) {
	if !c.allow() {
		return nil, Transient(ErrCircuitOpen)
	}
	status, err := c.inner.CheckStatus(ctx, correlationID)
	return status, c.record(ctx, err)
}

// allow admits every call while closed and one probe per interval while open.
func (c *BreakerClient) allow() bool {
	if !c.breaker.IsOpen() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastProbe) < c.probeInterval {
		return false
	}
	c.lastProbe = time.Now()
	return true
}

func (c *BreakerClient) record(ctx context.Context, err error) error {
	if err != nil && IsTransient(err) {
		_, change := c.breaker.RecordFailure()
		if change.Opened {
			// Start the probe clock now so the call that opened the circuit
			// does not count as the probe.
			c.mu.Lock()
			c.lastProbe = time.Now()
			c.mu.Unlock()
			c.logger.WarnContext(ctx, "gateway circuit opened", "breaker", c.breaker.Name())
		}
		return err
	}
	_, change := c.breaker.RecordSuccess()
	if change.Closed {
		c.logger.InfoContext(ctx, "gateway circuit closed", "breaker", c.breaker.Name())
	}
	return err
}
