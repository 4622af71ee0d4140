package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies what kind of record an event was recorded against.
type EntityType string

const (
	EntityFiling EntityType = "FILING"
	EntityAuth   EntityType = "AUTH"
)

// Action names what happened. Every state-changing operation on a filing
// produces exactly one event, including failed attempts.
type Action string

const (
	ActionLifecycleTransition Action = "LIFECYCLE_TRANSITION"
	ActionTransitionRejected  Action = "TRANSITION_REJECTED"
	ActionSubmitRequested     Action = "SUBMIT_REQUESTED"
	ActionSubmitDeduplicated  Action = "SUBMIT_DEDUPLICATED"
	ActionERIDispatch         Action = "ERI_DISPATCH"
	ActionERIRetry            Action = "ERI_RETRY"
	ActionERIAccepted         Action = "ERI_ACCEPTED"
	ActionERIRejected         Action = "ERI_REJECTED"
	ActionERIAckReceived      Action = "ERI_ACK_RECEIVED"
	ActionERIAckTimeout       Action = "ERI_ACK_TIMEOUT"
	ActionERIRetriesExhausted Action = "ERI_RETRIES_EXHAUSTED"
)

// ActorRole classifies who performed an action. System-initiated actions have
// no actor id.
type ActorRole string

const (
	RoleEndUser  ActorRole = "END_USER"
	RoleReviewer ActorRole = "REVIEWER"
	RoleAdmin    ActorRole = "ADMIN"
	RoleSystem   ActorRole = "SYSTEM"
)

// Event is an append-only audit record. Once written it is never updated or
// deleted; the sequence per entity is a complete reconstruction of what
// happened and when.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     Action          `json:"action"`
	ActorID    string          `json:"actor_id,omitempty"`
	ActorRole  ActorRole       `json:"actor_role"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IP         string          `json:"ip,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// TransitionPayload is the structured snapshot recorded with every lifecycle
// transition event.
type TransitionPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Trigger string `json:"trigger,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Version int64  `json:"version"`
}

// MarshalPayload encodes v for the event payload column. Marshalling a plain
// struct cannot fail here, so errors collapse to an empty object.
func MarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
