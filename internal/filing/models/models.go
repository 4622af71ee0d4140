package models

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the authoritative workflow position of a filing. Only the
// lifecycle machine mutates it; everything else reads.
type LifecycleState string

const (
	StateDraftInit      LifecycleState = "draft_init"
	StateReadyToFile    LifecycleState = "ready_to_file"
	StateSubmittedToCA  LifecycleState = "submitted_to_ca"
	StateCAApproved     LifecycleState = "ca_approved"
	StateERIInProgress  LifecycleState = "eri_in_progress"
	StateERIAckReceived LifecycleState = "eri_ack_received"
	StateFiled          LifecycleState = "filed"
	StateERIFailed      LifecycleState = "eri_failed"
	StateCancelled      LifecycleState = "cancelled"
)

// IsTerminal reports whether no transition may leave this state.
func (s LifecycleState) IsTerminal() bool {
	return s == StateFiled || s == StateCancelled
}

// LegacyStatus is the coarse status mirror kept for backward-compatible
// display. It is derived from LifecycleState on every write and on read,
// never stored as independently-writable state.
type LegacyStatus string

const (
	LegacyDraft       LegacyStatus = "DRAFT"
	LegacyReady       LegacyStatus = "READY"
	LegacyUnderReview LegacyStatus = "UNDER_REVIEW"
	LegacyProcessing  LegacyStatus = "PROCESSING"
	LegacyCompleted   LegacyStatus = "COMPLETED"
	LegacyFailed      LegacyStatus = "FAILED"
	LegacyCancelled   LegacyStatus = "CANCELLED"
)

// DeriveLegacyStatus maps the fine-grained lifecycle state onto the coarse
// legacy status column.
func DeriveLegacyStatus(s LifecycleState) LegacyStatus {
	switch s {
	case StateDraftInit:
		return LegacyDraft
	case StateReadyToFile:
		return LegacyReady
	case StateSubmittedToCA, StateCAApproved:
		return LegacyUnderReview
	case StateERIInProgress, StateERIAckReceived:
		return LegacyProcessing
	case StateFiled:
		return LegacyCompleted
	case StateERIFailed:
		return LegacyFailed
	case StateCancelled:
		return LegacyCancelled
	default:
		return LegacyDraft
	}
}

// Rejection reasons recorded on eri_failed.
const (
	ReasonGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	ReasonAckTimeout         = "ACK_TIMEOUT"
)

var (
	panPattern            = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	assessmentYearPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
	ackNumberPattern      = regexp.MustCompile(`^[A-Z0-9-]{6,64}$`)
)

// ValidPAN reports whether pan matches the taxpayer PAN format.
func ValidPAN(pan string) bool { return panPattern.MatchString(pan) }

// ValidAssessmentYear reports whether ay matches the YYYY-YY format and the
// short year follows the full year, as in "2024-25".
func ValidAssessmentYear(ay string) bool {
	if !assessmentYearPattern.MatchString(ay) {
		return false
	}
	start, err := strconv.Atoi(ay[:4])
	if err != nil {
		return false
	}
	next, err := strconv.Atoi(ay[5:])
	if err != nil {
		return false
	}
	return (start+1)%100 == next
}

// ValidAckNumber is the structural check applied before a gateway
// acknowledgment is accepted.
func ValidAckNumber(ack string) bool { return ackNumberPattern.MatchString(ack) }

// MaskPAN redacts the middle of a PAN for log output.
func MaskPAN(pan string) string {
	if len(pan) != 10 {
		return "N/A"
	}
	return pan[:5] + "****" + pan[9:]
}

// FilingRecord is one tax-return filing attempt by a user for an assessment
// year. It is created when a draft is finalized, mutated only through
// lifecycle-sanctioned transitions, and never deleted.
type FilingRecord struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	AssessmentYear string
	TaxpayerPAN    string
	FormType       string
	Payload        json.RawMessage

	LifecycleState  LifecycleState
	LegacyStatus    LegacyStatus
	Progress        int
	RejectionReason string

	// Set on gateway accept; used to correlate the asynchronous acknowledgment.
	CorrelationID string
	AckNumber     string
	FiledAt       *time.Time
	FiledBy       string

	// CA review trail.
	ReviewedBy *uuid.UUID
	ReviewedAt *time.Time
	ApprovedBy *uuid.UUID
	ApprovedAt *time.Time

	IdempotencyKey string
	Version        int64
	LastUpdated    time.Time
	CreatedAt      time.Time
}

// Clone returns a deep enough copy for the in-memory store to hand out
// without aliasing internal state.
func (f *FilingRecord) Clone() *FilingRecord {
	cp := *f
	if f.Payload != nil {
		cp.Payload = append(json.RawMessage{}, f.Payload...)
	}
	if f.FiledAt != nil {
		t := *f.FiledAt
		cp.FiledAt = &t
	}
	if f.ReviewedAt != nil {
		t := *f.ReviewedAt
		cp.ReviewedAt = &t
	}
	if f.ApprovedAt != nil {
		t := *f.ApprovedAt
		cp.ApprovedAt = &t
	}
	if f.ReviewedBy != nil {
		id := *f.ReviewedBy
		cp.ReviewedBy = &id
	}
	if f.ApprovedBy != nil {
		id := *f.ApprovedBy
		cp.ApprovedBy = &id
	}
	return &cp
}

// StatusView is the stable external representation served by the status
// projection. It reflects persisted state only.
type StatusView struct {
	FilingID        string  `json:"filing_id"`
	AssessmentYear  string  `json:"assessment_year"`
	State           string  `json:"state"`
	Status          string  `json:"status"`
	Progress        int     `json:"progress"`
	AckNumber       string  `json:"ack_number,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	FiledAt         *string `json:"filed_at,omitempty"`
	LastUpdated     string  `json:"last_updated"`
}
