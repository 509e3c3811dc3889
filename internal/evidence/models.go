package evidence

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ProofStatus string

const (
	StatusPending     ProofStatus = "PENDING"
	StatusAIAnalyzing ProofStatus = "AI_ANALYZING"
	StatusAIApproved  ProofStatus = "AI_APPROVED"
	StatusAIFlagged   ProofStatus = "AI_FLAGGED"
	StatusHumanReview ProofStatus = "HUMAN_REVIEW"
	StatusVerified    ProofStatus = "VERIFIED"
	StatusRejected    ProofStatus = "REJECTED"
)

var (
	// ErrConflict means a compare-and-swap transition lost a race: the stored
	// status no longer matches the expected prior status. The concurrent
	// transition that won is authoritative.
	ErrConflict = errors.New("proof status changed concurrently")

	// ErrInvalidState means the milestone already has an active non-terminal
	// proof and cannot accept a new submission.
	ErrInvalidState = errors.New("milestone has an active proof")

	// ErrNotFound means no proof exists for the milestone
	ErrNotFound = errors.New("proof not found")

	// ErrIllegalTransition means the requested transition is not an edge of
	// the proof state diagram.
	ErrIllegalTransition = errors.New("transition not allowed")
)

// Proof is one evidence submission attempt for a milestone. A rejected proof
// is never mutated; resubmission creates a new Proof row so the audit history
// of failed attempts survives.
type Proof struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	MilestoneID     uuid.UUID       `json:"milestone_id" db:"milestone_id"`
	Attempt         int             `json:"attempt" db:"attempt"`
	BeforeImageRefs pq.StringArray  `json:"before_image_refs" db:"before_image_refs"`
	AfterImageRefs  pq.StringArray  `json:"after_image_refs" db:"after_image_refs"`
	Status          ProofStatus     `json:"status" db:"status"`
	CapturedAt      time.Time       `json:"captured_at" db:"captured_at"`
	DeviceMeta      json.RawMessage `json:"device_meta,omitempty" db:"device_meta"`
	AIConfidence    *float64        `json:"ai_confidence,omitempty" db:"ai_confidence"`
	AIVerdict       *string         `json:"ai_verdict,omitempty" db:"ai_verdict"`
	AnnotatedRefs   pq.StringArray  `json:"annotated_refs,omitempty" db:"annotated_refs"`
	SubmittedBy     uuid.UUID       `json:"submitted_by" db:"submitted_by"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the proof has reached a human-terminal status
func (p *Proof) IsTerminal() bool {
	return p.Status == StatusVerified || p.Status == StatusRejected
}

// OracleReport is the raw screening result retained on the proof row for audit
type OracleReport struct {
	Confidence    float64
	Verdict       string
	AnnotatedRefs []string
}
