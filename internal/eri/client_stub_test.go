package eri

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSubmission(pan string) Submission {
	return Submission{
		FilingID:       uuid.New(),
		TaxpayerPAN:    pan,
		AssessmentYear: "2024-25",
		FormType:       "ITR-1",
	}
}

func TestStubClientFileReturn(t *testing.T) {
	ctx := context.Background()
	client := NewStubClient()

	t.Run("pan ending in P is accepted", func(t *testing.T) {
		result, err := client.FileReturn(ctx, stubSubmission("ABCDE1234P"))
		require.NoError(t, err)
		assert.Equal(t, FileAccepted, result.Status)
		assert.NotEmpty(t, result.CorrelationID)
	})

	t.Run("pan ending in F is rejected", func(t *testing.T) {
		result, err := client.FileReturn(ctx, stubSubmission("ABCDE1234F"))
		require.NoError(t, err)
		assert.Equal(t, FileRejected, result.Status)
		assert.Contains(t, result.Reason, "ERI_REJECTED")
	})

	t.Run("other pans fail transiently", func(t *testing.T) {
		_, err := client.FileReturn(ctx, stubSubmission("ABCDE1234X"))
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})
}

func TestStubClientAckOnSecondPoll(t *testing.T) {
	ctx := context.Background()
	client := NewStubClient()

	result, err := client.FileReturn(ctx, stubSubmission("ABCDE1234P"))
	require.NoError(t, err)

	status, err := client.CheckStatus(ctx, result.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, AckPending, status.State)

	status, err = client.CheckStatus(ctx, result.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, AckReceived, status.State)
	assert.NotEmpty(t, status.AckNumber)
}

func TestStubClientUnknownCorrelation(t *testing.T) {
	client := NewStubClient()
	status, err := client.CheckStatus(context.Background(), "ERI-UNKNOWN")
	require.NoError(t, err)
	assert.Equal(t, AckRejected, status.State)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient(assert.AnError)))
	assert.False(t, IsTransient(assert.AnError))
	assert.False(t, IsTransient(nil))
}
