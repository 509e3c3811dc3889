package quorum

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Vote string

const (
	VoteApprove Vote = "APPROVE"
	VoteReject  Vote = "REJECT"
)

var (
	// ErrDuplicateVote means this verifier already voted on this proof
	ErrDuplicateVote = errors.New("verifier already voted on this proof")

	// ErrAlreadyResolved means the proof reached a terminal status and no
	// longer accepts votes.
	ErrAlreadyResolved = errors.New("proof already resolved")

	// ErrNotInReview means the proof has not reached HUMAN_REVIEW yet. Votes
	// cast earlier would tally against a proof the resolution CAS cannot move,
	// leaving a complete quorum unapplied.
	ErrNotInReview = errors.New("proof not in human review")

	// ErrInvalidVote means the vote value is not APPROVE or REJECT
	ErrInvalidVote = errors.New("vote must be APPROVE or REJECT")
)

// Verification is one reviewer's vote on a specific proof. Immutable once
// created; at most one exists per (proof, verifier) pair.
type Verification struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ProofID    uuid.UUID `json:"proof_id" db:"proof_id"`
	VerifierID uuid.UUID `json:"verifier_id" db:"verifier_id"`
	Vote       Vote      `json:"vote" db:"vote"`
	Comment    string    `json:"comment" db:"comment"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Outcome string

const (
	OutcomeVerified Outcome = "VERIFIED"
	OutcomeRejected Outcome = "REJECTED"
)

// TallyResult is the quorum evaluation recomputed from the full stored vote
// set after each cast.
type TallyResult struct {
	Approvals  int      `json:"approvals"`
	Rejections int      `json:"rejections"`
	Resolved   bool     `json:"resolved"`
	Outcome    *Outcome `json:"outcome,omitempty"`
}

// RejectionThreshold derives the default early-rejection threshold from the
// quorum size: a release needs the full quorum, but ceil(quorum/2) rejections
// already make a favorable quorum unreachable in practice. Kept as a separate
// function so policy can diverge from the default per milestone.
func RejectionThreshold(requiredApprovals int) int {
	return (requiredApprovals + 1) / 2
}
