package settlement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type RecordStatus string

const (
	// StatusPendingExternal: the release decision is durable but the external
	// ledger has not acknowledged it yet. Picked up by the retry sweep.
	StatusPendingExternal RecordStatus = "PENDING_EXTERNAL"
	// StatusConfirmed: the external ledger accepted the release
	StatusConfirmed RecordStatus = "CONFIRMED"
)

var (
	// ErrAlreadySettled means the milestone's settlement already fired.
	// Logged as a serious anomaly; the request is rejected, never retried.
	ErrAlreadySettled = errors.New("milestone already settled")

	// ErrNotFound means no settlement record exists
	ErrNotFound = errors.New("settlement record not found")
)

// Record is the durable settlement intent: the authoritative decision and its
// justification (which proof, which approvers). It never moves funds itself.
type Record struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	MilestoneID     uuid.UUID      `json:"milestone_id" db:"milestone_id"`
	ProofID         uuid.UUID      `json:"proof_id" db:"proof_id"`
	ApproverIDs     pq.StringArray `json:"approver_ids" db:"approver_ids"`
	DecidedAt       time.Time      `json:"decided_at" db:"decided_at"`
	Status          RecordStatus   `json:"status" db:"status"`
	LedgerReference *string        `json:"ledger_reference,omitempty" db:"ledger_reference"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Intent is the outbound payload to the external ledger
type Intent struct {
	MilestoneID uuid.UUID `json:"milestone_id"`
	ProofID     uuid.UUID `json:"proof_id"`
	ApproverIDs []string  `json:"approver_ids"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Receipt is the ledger's acknowledgement, persisted verbatim for audit
type Receipt struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference,omitempty"`
}
