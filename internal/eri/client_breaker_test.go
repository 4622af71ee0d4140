package eri

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxdesk/pkg/platform/circuit"
)

type scriptedClient struct {
	results []error
	calls   int
}

func (c *scriptedClient) FileReturn(context.Context, Submission) (*FileResult, error) {
	err := c.next()
	if err != nil {
		return nil, err
	}
	return &FileResult{Status: FileAccepted, CorrelationID: "ERI-1"}, nil
}

func (c *scriptedClient) CheckStatus(context.Context, string) (*AckStatus, error) {
	err := c.next()
	if err != nil {
		return nil, err
	}
	return &AckStatus{State: AckPending}, nil
}

func (c *scriptedClient) next() error {
	defer func() { c.calls++ }()
	if c.calls < len(c.results) {
		return c.results[c.calls]
	}
	return nil
}

func TestBreakerClientOpensAndFailsFast(t *testing.T) {
	ctx := context.Background()
	transient := Transient(errors.New("gateway timeout"))
	inner := &scriptedClient{results: []error{transient, transient}}

	breaker := circuit.New("test", circuit.WithFailureThreshold(2))
	client := NewBreakerClient(inner, breaker, slog.New(slog.DiscardHandler))

	_, err := client.FileReturn(ctx, Submission{})
	require.Error(t, err)
	assert.False(t, breaker.IsOpen())

	_, err = client.FileReturn(ctx, Submission{})
	require.Error(t, err)
	assert.True(t, breaker.IsOpen())

	// Open circuit fails fast without touching the gateway.
	_, err = client.FileReturn(ctx, Submission{})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, inner.calls)
}

func TestBreakerClientProbeClosesCircuit(t *testing.T) {
	ctx := context.Background()
	transient := Transient(errors.New("gateway timeout"))
	inner := &scriptedClient{results: []error{transient}}

	breaker := circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(1))
	client := NewBreakerClient(inner, breaker, slog.New(slog.DiscardHandler))
	client.probeInterval = 0

	_, err := client.FileReturn(ctx, Submission{})
	require.Error(t, err)
	require.True(t, breaker.IsOpen())

	// Zero probe interval lets the next call through; it succeeds and closes
	// the circuit.
	result, err := client.FileReturn(ctx, Submission{})
	require.NoError(t, err)
	assert.Equal(t, FileAccepted, result.Status)
	assert.False(t, breaker.IsOpen())
}

func TestBreakerClientRejectionCountsAsSuccess(t *testing.T) {
	ctx := context.Background()
	transient := Transient(errors.New("gateway timeout"))
	inner := &scriptedClient{results: []error{transient, nil, transient}}

	breaker := circuit.New("test", circuit.WithFailureThreshold(2))
	client := NewBreakerClient(inner, breaker, slog.New(slog.DiscardHandler))

	_, _ = client.FileReturn(ctx, Submission{})
	_, err := client.CheckStatus(ctx, "ERI-1")
	require.NoError(t, err)

	// The success reset the count; one more transient does not open.
	_, _ = client.FileReturn(ctx, Submission{})
	assert.False(t, breaker.IsOpen())
}
