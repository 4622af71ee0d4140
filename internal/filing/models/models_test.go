package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidPAN(t *testing.T) {
	valid := []string{"ABCDE1234P", "ZZZZZ0000F", "AAAAA9999A"}
	for _, pan := range valid {
		assert.True(t, ValidPAN(pan), pan)
	}

	invalid := []string{"", "abcde1234p", "ABCDE1234", "ABCDE12345", "1BCDE1234P", "ABCD51234P", "ABCDE1234PX"}
	for _, pan := range invalid {
		assert.False(t, ValidPAN(pan), pan)
	}
}

func TestValidAssessmentYear(t *testing.T) {
	assert.True(t, ValidAssessmentYear("2024-25"))
	assert.True(t, ValidAssessmentYear("2099-00"))

	invalid := []string{"", "2024", "2024-2025", "24-25", "2024-26", "2024-24", "abcd-ef"}
	for _, ay := range invalid {
		assert.False(t, ValidAssessmentYear(ay), ay)
	}
}

func TestValidAckNumber(t *testing.T) {
	assert.True(t, ValidAckNumber("ACK-2024-000123"))
	assert.True(t, ValidAckNumber("123456"))

	invalid := []string{"", "short", "ack-2024", "ACK 2024", "ACK_2024_000123"}
	for _, ack := range invalid {
		assert.False(t, ValidAckNumber(ack), ack)
	}
}

func TestMaskPAN(t *testing.T) {
	assert.Equal(t, "ABCDE****P", MaskPAN("ABCDE1234P"))
	assert.Equal(t, "N/A", MaskPAN("short"))
	assert.Equal(t, "N/A", MaskPAN(""))
}

func TestDeriveLegacyStatus(t *testing.T) {
	cases := map[LifecycleState]LegacyStatus{
		StateDraftInit:      LegacyDraft,
		StateReadyToFile:    LegacyReady,
		StateSubmittedToCA:  LegacyUnderReview,
		StateCAApproved:     LegacyUnderReview,
		StateERIInProgress:  LegacyProcessing,
		StateERIAckReceived: LegacyProcessing,
		StateFiled:          LegacyCompleted,
		StateERIFailed:      LegacyFailed,
		StateCancelled:      LegacyCancelled,
	}
	for state, want := range cases {
		assert.Equal(t, want, DeriveLegacyStatus(state), string(state))
	}
}

func TestCloneIsDeep(t *testing.T) {
	reviewer := uuid.New()
	rec := &FilingRecord{
		ID:         uuid.New(),
		Payload:    []byte(`{"a":1}`),
		ReviewedBy: &reviewer,
	}

	cp := rec.Clone()
	cp.Payload[2] = 'b'
	*cp.ReviewedBy = uuid.New()

	assert.Equal(t, byte('a'), rec.Payload[2])
	assert.Equal(t, reviewer, *rec.ReviewedBy)
}
