package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailAppendStampsTimestamp(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail(NewInMemoryStore())
	filingID := uuid.NewString()

	before := time.Now()
	err := trail.Append(ctx, Event{
		EntityType: EntityFiling,
		EntityID:   filingID,
		Action:     ActionSubmitRequested,
		ActorID:    uuid.NewString(),
		ActorRole:  RoleEndUser,
	})
	require.NoError(t, err)

	events, err := trail.QueryByEntity(ctx, EntityFiling, filingID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].Timestamp.Before(before))
}

func TestTrailAppendKeepsCallerTimestamp(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail(NewInMemoryStore())
	filingID := uuid.NewString()
	stamped := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	err := trail.Append(ctx, Event{
		EntityType: EntityFiling,
		EntityID:   filingID,
		Action:     ActionERIAccepted,
		ActorRole:  RoleSystem,
		Timestamp:  stamped,
	})
	require.NoError(t, err)

	events, err := trail.QueryByEntity(ctx, EntityFiling, filingID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(stamped))
}

func TestQueryByEntityIsolatesEntities(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail(NewInMemoryStore())
	first := uuid.NewString()
	second := uuid.NewString()

	actions := []Action{ActionSubmitRequested, ActionERIAccepted, ActionERIAckReceived}
	for _, action := range actions {
		require.NoError(t, trail.Append(ctx, Event{
			EntityType: EntityFiling, EntityID: first, Action: action, ActorRole: RoleSystem,
		}))
	}
	require.NoError(t, trail.Append(ctx, Event{
		EntityType: EntityFiling, EntityID: second, Action: ActionTransitionRejected, ActorRole: RoleEndUser,
	}))

	events, err := trail.QueryByEntity(ctx, EntityFiling, first)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, action := range actions {
		assert.Equal(t, action, events[i].Action, "events keep arrival order")
	}

	events, err = trail.QueryByEntity(ctx, EntityFiling, second)
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = trail.QueryByEntity(ctx, EntityFiling, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMarshalPayload(t *testing.T) {
	raw := MarshalPayload(TransitionPayload{
		From:    "ready_to_file",
		To:      "eri_in_progress",
		Trigger: "submit",
		Version: 3,
	})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ready_to_file", decoded["from"])
	assert.Equal(t, "eri_in_progress", decoded["to"])
	assert.Equal(t, float64(3), decoded["version"])
	_, hasReason := decoded["reason"]
	assert.False(t, hasReason, "empty reason is omitted")
}
