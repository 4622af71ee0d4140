package eri

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StubClient returns deterministic outcomes keyed off the taxpayer PAN's last
// character, for development mode and tests:
//
//	'P' -> accepted, ack available on the second status poll
//	'F' -> terminal rejection
//	anything else -> transient error
type StubClient struct {
	mu    sync.Mutex
	polls map[string]int
	acks  map[string]string
}

func NewStubClient() *StubClient {
	return &StubClient{
		polls: make(map[string]int),
		acks:  make(map[string]string),
	}
}

func (c *StubClient) FileReturn(_ context.Context, sub Submission) (*FileResult, error) {
	pan := strings.ToUpper(sub.TaxpayerPAN)
	if pan == "" {
		return &FileResult{Status: FileRejected, Reason: "INVALID_PAN: PAN missing in submission"}, nil
	}
	switch pan[len(pan)-1] {
	case 'P':
		correlationID := fmt.Sprintf("ERI-%d-%s", time.Now().UnixNano(), pan[len(pan)-4:])
		c.mu.Lock()
		c.acks[correlationID] = fmt.Sprintf("ACK-%d", time.Now().UnixNano())
		c.mu.Unlock()
		return &FileResult{Status: FileAccepted, CorrelationID: correlationID}, nil
	case 'F':
		return &FileResult{Status: FileRejected, Reason: "ERI_REJECTED: validation failed"}, nil
	default:
		return nil, Transient(errors.New("gateway timeout"))
	}
}

func (c *StubClient) CheckStatus(_ context.Context, correlationID string) (*AckStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ack, ok := c.acks[correlationID]
	if !ok {
		return &AckStatus{State: AckRejected, Reason: "unknown correlation id"}, nil
	}
	c.polls[correlationID]++
	if c.polls[correlationID] < 2 {
		return &AckStatus{State: AckPending}, nil
	}
	return &AckStatus{State: AckReceived, AckNumber: ack}, nil
}
