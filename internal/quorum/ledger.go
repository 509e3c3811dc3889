package quorum

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/internal/evidence"
)

// Ledger records verifier votes and tallies them against the milestone's
// quorum policy. Votes are never cached: every tally is recomputed from the
// persisted vote set.
type Ledger interface {
	CastVote(ctx context.Context, req CastVoteRequest) (*Verification, error)
	Tally(ctx context.Context, proofID uuid.UUID, requiredApprovals, rejectionThreshold int) (*TallyResult, error)
	ListVotes(ctx context.Context, proofID uuid.UUID) ([]Verification, error)
	ListApproverIDs(ctx context.Context, proofID uuid.UUID) ([]uuid.UUID, error)
}

type CastVoteRequest struct {
	ProofID    uuid.UUID
	VerifierID uuid.UUID
	Vote       Vote
	Comment    string
}

type ledger struct {
	repo     Repository
	evidence evidence.Store
	logger   *zap.Logger
}

func NewLedger(repo Repository, evidenceStore evidence.Store, logger *zap.Logger) Ledger {
	return &ledger{
		repo:     repo,
		evidence: evidenceStore,
		logger:   logger,
	}
}

func (l *ledger) CastVote(ctx context.Context, req CastVoteRequest) (*Verification, error) {
	if req.Vote != VoteApprove && req.Vote != VoteReject {
		return nil, ErrInvalidVote
	}

	proof, err := l.evidence.GetProof(ctx, req.ProofID)
	if err != nil {
		return nil, err
	}
	if proof.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	// votes are only accepted once the screening funnel has landed the proof
	// in HUMAN_REVIEW: resolution swaps out of that status, so a quorum that
	// completed any earlier could never be applied
	if proof.Status != evidence.StatusHumanReview {
		return nil, ErrNotInReview
	}

	v := &Verification{
		ID:         uuid.New(),
		ProofID:    req.ProofID,
		VerifierID: req.VerifierID,
		Vote:       req.Vote,
		Comment:    req.Comment,
	}
	if err := l.repo.InsertVote(ctx, v); err != nil {
		return nil, err
	}

	l.logger.Info("Vote cast",
		zap.String("proof_id", req.ProofID.String()),
		zap.String("verifier_id", req.VerifierID.String()),
		zap.String("vote", string(req.Vote)))

	return v, nil
}

// Tally evaluates the asymmetric resolution rule: the full quorum is needed
// to approve, while rejectionThreshold rejections resolve REJECTED early.
// Release is irreversible, rejection only triggers resubmission.
func (l *ledger) Tally(ctx context.Context, proofID uuid.UUID, requiredApprovals, rejectionThreshold int) (*TallyResult, error) {
	votes, err := l.repo.ListVotes(ctx, proofID)
	if err != nil {
		return nil, err
	}

	result := &TallyResult{}
	for _, v := range votes {
		switch v.Vote {
		case VoteApprove:
			result.Approvals++
		case VoteReject:
			result.Rejections++
		}
	}

	switch {
	case result.Approvals >= requiredApprovals:
		outcome := OutcomeVerified
		result.Resolved = true
		result.Outcome = &outcome
	case result.Rejections > 0 && result.Rejections >= rejectionThreshold:
		outcome := OutcomeRejected
		result.Resolved = true
		result.Outcome = &outcome
	}

	return result, nil
}

func (l *ledger) ListVotes(ctx context.Context, proofID uuid.UUID) ([]Verification, error) {
	return l.repo.ListVotes(ctx, proofID)
}

func (l *ledger) ListApproverIDs(ctx context.Context, proofID uuid.UUID) ([]uuid.UUID, error) {
	return l.repo.ListApproverIDs(ctx, proofID)
}
