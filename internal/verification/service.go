package verification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/internal/audit"
	"fieldproof/verification-engine/verification-backend/internal/evidence"
	"fieldproof/verification-engine/verification-backend/internal/quorum"
	"fieldproof/verification-engine/verification-backend/internal/screening"
	"fieldproof/verification-engine/verification-backend/internal/settlement"
	"fieldproof/verification-engine/verification-backend/internal/tasks"
)

// Recorder receives audit events from the decision path
type Recorder interface {
	Record(ctx context.Context, eventType string, proofID, taskID, actorID *uuid.UUID, payload interface{})
}

// noopRecorder drops events; used when no audit sink is wired
type noopRecorder struct{}

func (noopRecorder) Record(context.Context, string, *uuid.UUID, *uuid.UUID, *uuid.UUID, interface{}) {
}

// Service drives a milestone's proof through its lifecycle: submission,
// screening, quorum, and settlement. Every transition goes through the
// evidence store's compare-and-swap, so any request can be served by any
// process with no in-memory coordination.
type Service interface {
	SubmitProof(ctx context.Context, milestoneID uuid.UUID, req SubmitProofRequest) (*SubmissionResult, error)
	CastVote(ctx context.Context, proofID, verifierID uuid.UUID, vote quorum.Vote, comment string) (*VoteResult, error)
	HandleOracleResult(ctx context.Context, proofID uuid.UUID, result screening.OracleResult) error
	GetProofState(ctx context.Context, proofID uuid.UUID) (*ProofState, error)
	ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]evidence.Proof, error)
	GetActiveProof(ctx context.Context, milestoneID uuid.UUID) (*evidence.Proof, error)
	GetSettlement(ctx context.Context, milestoneID uuid.UUID) (*settlement.Record, error)
}

type SubmitProofRequest struct {
	BeforeImageRefs []string
	AfterImageRefs  []string
	CapturedAt      time.Time
	DeviceMeta      json.RawMessage
	SubmittedBy     uuid.UUID
}

type SubmissionResult struct {
	Proof  *evidence.Proof   `json:"proof"`
	Handle *screening.Handle `json:"screening"`
}

type VoteResult struct {
	Verification *quorum.Verification `json:"verification"`
	Tally        *quorum.TallyResult  `json:"tally"`
	ProofStatus  evidence.ProofStatus `json:"proof_status"`
}

type ProofState struct {
	Proof      *evidence.Proof       `json:"proof"`
	Tally      *quorum.TallyResult   `json:"tally"`
	Votes      []quorum.Verification `json:"votes"`
	Settlement *settlement.Record    `json:"settlement,omitempty"`
}

type service struct {
	evidence   evidence.Store
	screening  *screening.Adapter
	quorum     quorum.Ledger
	settlement settlement.Trigger
	tasks      tasks.Service
	audit      Recorder
	logger     *zap.Logger
}

func NewService(
	evidenceStore evidence.Store,
	adapter *screening.Adapter,
	ledger quorum.Ledger,
	trigger settlement.Trigger,
	taskService tasks.Service,
	recorder Recorder,
	logger *zap.Logger,
) Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &service{
		evidence:   evidenceStore,
		screening:  adapter,
		quorum:     ledger,
		settlement: trigger,
		tasks:      taskService,
		audit:      recorder,
		logger:     logger,
	}
}

// SubmitProof creates the milestone's next proof attempt and kicks off
// screening. The task follows into SUBMITTED; a lost task transition means a
// resubmission raced the first submission and is not fatal here.
func (s *service) SubmitProof(ctx context.Context, milestoneID uuid.UUID, req SubmitProofRequest) (*SubmissionResult, error) {
	milestone, err := s.tasks.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	proof, err := s.evidence.CreateProof(ctx, evidence.CreateProofRequest{
		MilestoneID:     milestoneID,
		BeforeImageRefs: req.BeforeImageRefs,
		AfterImageRefs:  req.AfterImageRefs,
		CapturedAt:      req.CapturedAt,
		DeviceMeta:      req.DeviceMeta,
		SubmittedBy:     req.SubmittedBy,
	})
	if err != nil {
		return nil, err
	}

	if err := s.tasks.MarkSubmitted(ctx, milestone.TaskID); err != nil && !errors.Is(err, tasks.ErrConflict) {
		s.logger.Warn("Task submit transition failed",
			zap.String("task_id", milestone.TaskID.String()), zap.Error(err))
	}

	s.audit.Record(ctx, audit.EventProofTransition, &proof.ID, &milestone.TaskID, &req.SubmittedBy, map[string]interface{}{
		"to":      string(evidence.StatusPending),
		"attempt": proof.Attempt,
	})

	handle, err := s.screening.RequestScreening(ctx, proof)
	if err != nil {
		// the proof exists; screening can be retried by ops, and a stuck
		// PENDING proof is visible. Surface the submission as created.
		s.logger.Error("Failed to start screening",
			zap.String("proof_id", proof.ID.String()), zap.Error(err))
		return &SubmissionResult{Proof: proof}, nil
	}

	return &SubmissionResult{Proof: proof, Handle: handle}, nil
}

// CastVote records one verifier's vote and resolves the quorum if the tally
// says so. Resolution itself is a CAS on HUMAN_REVIEW, so two racing final
// votes produce exactly one resolution.
func (s *service) CastVote(ctx context.Context, proofID, verifierID uuid.UUID, vote quorum.Vote, comment string) (*VoteResult, error) {
	v, err := s.quorum.CastVote(ctx, quorum.CastVoteRequest{
		ProofID:    proofID,
		VerifierID: verifierID,
		Vote:       vote,
		Comment:    comment,
	})
	if err != nil {
		return nil, err
	}

	proof, err := s.evidence.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	milestone, err := s.tasks.GetMilestone(ctx, proof.MilestoneID)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.EventVoteCast, &proofID, &milestone.TaskID, &verifierID, map[string]interface{}{
		"vote": string(vote),
	})

	tally, err := s.quorum.Tally(ctx, proofID, milestone.RequiredApprovals,
		quorum.RejectionThreshold(milestone.RequiredApprovals))
	if err != nil {
		return nil, err
	}

	status := proof.Status
	if tally.Resolved {
		status = s.resolve(ctx, proof, milestone, *tally.Outcome)
	}

	return &VoteResult{Verification: v, Tally: tally, ProofStatus: status}, nil
}

// resolve applies the quorum outcome. A lost CAS means a concurrent vote
// already resolved the proof; the stored state wins.
func (s *service) resolve(ctx context.Context, proof *evidence.Proof, milestone *tasks.Milestone, outcome quorum.Outcome) evidence.ProofStatus {
	target := evidence.StatusVerified
	if outcome == quorum.OutcomeRejected {
		target = evidence.StatusRejected
	}

	resolved, err := s.evidence.Transition(ctx, proof.ID, evidence.StatusHumanReview, target)
	if err != nil {
		if errors.Is(err, evidence.ErrConflict) {
			current, getErr := s.evidence.GetProof(ctx, proof.ID)
			if getErr == nil {
				return current.Status
			}
		}
		s.logger.Error("Quorum resolution transition failed",
			zap.String("proof_id", proof.ID.String()), zap.Error(err))
		return proof.Status
	}

	s.audit.Record(ctx, audit.EventQuorumResolved, &proof.ID, &milestone.TaskID, nil, map[string]interface{}{
		"outcome": string(outcome),
	})

	switch outcome {
	case quorum.OutcomeVerified:
		s.finalizeVerified(ctx, resolved, milestone)
	case quorum.OutcomeRejected:
		if err := s.tasks.MarkResubmitting(ctx, milestone.TaskID); err != nil && !errors.Is(err, tasks.ErrConflict) {
			s.logger.Warn("Task resubmission transition failed",
				zap.String("task_id", milestone.TaskID.String()), zap.Error(err))
		}
	}

	return resolved.Status
}

// finalizeVerified advances the task and fires settlement exactly once. The
// idempotency guard is the milestone's settlement flag, not the proof status:
// ErrAlreadySettled here is an anomaly worth shouting about.
func (s *service) finalizeVerified(ctx context.Context, proof *evidence.Proof, milestone *tasks.Milestone) {
	if err := s.tasks.MarkVerified(ctx, milestone.TaskID); err != nil && !errors.Is(err, tasks.ErrConflict) {
		s.logger.Warn("Task verified transition failed",
			zap.String("task_id", milestone.TaskID.String()), zap.Error(err))
	}

	approvers, err := s.quorum.ListApproverIDs(ctx, proof.ID)
	if err != nil {
		s.logger.Error("Failed to load approvers for settlement",
			zap.String("proof_id", proof.ID.String()), zap.Error(err))
	}

	record, err := s.settlement.Fire(ctx, milestone.ID, proof.ID, approvers)
	if err != nil {
		if errors.Is(err, settlement.ErrAlreadySettled) {
			s.logger.Error("Settlement already fired for verified milestone",
				zap.String("milestone_id", milestone.ID.String()),
				zap.String("proof_id", proof.ID.String()))
			return
		}
		s.logger.Error("Settlement fire failed",
			zap.String("milestone_id", milestone.ID.String()), zap.Error(err))
		return
	}

	s.audit.Record(ctx, audit.EventSettlementFired, &proof.ID, &milestone.TaskID, nil, map[string]interface{}{
		"settlement_id": record.ID.String(),
		"status":        string(record.Status),
	})
}

func (s *service) HandleOracleResult(ctx context.Context, proofID uuid.UUID, result screening.OracleResult) error {
	if _, err := s.evidence.GetProof(ctx, proofID); err != nil {
		return err
	}
	s.screening.HandleResult(ctx, proofID, result)
	return nil
}

func (s *service) GetProofState(ctx context.Context, proofID uuid.UUID) (*ProofState, error) {
	proof, err := s.evidence.GetProof(ctx, proofID)
	if err != nil {
		return nil, err
	}

	milestone, err := s.tasks.GetMilestone(ctx, proof.MilestoneID)
	if err != nil {
		return nil, err
	}

	votes, err := s.quorum.ListVotes(ctx, proofID)
	if err != nil {
		return nil, err
	}

	tally, err := s.quorum.Tally(ctx, proofID, milestone.RequiredApprovals,
		quorum.RejectionThreshold(milestone.RequiredApprovals))
	if err != nil {
		return nil, err
	}

	state := &ProofState{Proof: proof, Tally: tally, Votes: votes}
	if record, err := s.settlement.GetRecord(ctx, proof.MilestoneID); err == nil {
		state.Settlement = record
	} else if !errors.Is(err, settlement.ErrNotFound) {
		return nil, err
	}

	return state, nil
}

func (s *service) ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]evidence.Proof, error) {
	return s.evidence.ListProofs(ctx, milestoneID)
}

func (s *service) GetActiveProof(ctx context.Context, milestoneID uuid.UUID) (*evidence.Proof, error) {
	return s.evidence.GetActiveProof(ctx, milestoneID)
}

func (s *service) GetSettlement(ctx context.Context, milestoneID uuid.UUID) (*settlement.Record, error) {
	return s.settlement.GetRecord(ctx, milestoneID)
}
