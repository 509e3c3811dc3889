package evidence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/pkg/workflows"
)

// Store owns the canonical record of submitted proofs and the
// compare-and-swap transition primitive every other component goes through.
type Store interface {
	CreateProof(ctx context.Context, req CreateProofRequest) (*Proof, error)
	GetProof(ctx context.Context, proofID uuid.UUID) (*Proof, error)
	GetActiveProof(ctx context.Context, milestoneID uuid.UUID) (*Proof, error)
	ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]Proof, error)
	Transition(ctx context.Context, proofID uuid.UUID, from, to ProofStatus) (*Proof, error)
	RecordOracleReport(ctx context.Context, proofID uuid.UUID, report OracleReport) error
}

type CreateProofRequest struct {
	MilestoneID     uuid.UUID
	BeforeImageRefs []string
	AfterImageRefs  []string
	CapturedAt      time.Time
	DeviceMeta      json.RawMessage
	SubmittedBy     uuid.UUID
}

type store struct {
	repo   Repository
	sm     *workflows.StateMachine
	logger *zap.Logger
}

func NewStore(repo Repository, logger *zap.Logger) Store {
	return &store{
		repo:   repo,
		sm:     workflows.NewProofStateMachine(),
		logger: logger,
	}
}

// CreateProof records a new submission attempt. Fails with ErrInvalidState if
// the milestone's current proof, if any, is not terminal-rejected: exactly one
// proof is active per milestone at a time.
func (s *store) CreateProof(ctx context.Context, req CreateProofRequest) (*Proof, error) {
	proof := &Proof{
		ID:              uuid.New(),
		MilestoneID:     req.MilestoneID,
		BeforeImageRefs: pq.StringArray(req.BeforeImageRefs),
		AfterImageRefs:  pq.StringArray(req.AfterImageRefs),
		Status:          StatusPending,
		CapturedAt:      req.CapturedAt,
		DeviceMeta:      req.DeviceMeta,
		SubmittedBy:     req.SubmittedBy,
	}

	inserted, err := s.repo.InsertProof(ctx, proof)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrInvalidState
	}

	// Re-read so the caller sees the attempt number the insert computed
	created, err := s.repo.GetProofByID(ctx, proof.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Proof created",
		zap.String("proof_id", proof.ID.String()),
		zap.String("milestone_id", req.MilestoneID.String()),
		zap.Int("attempt", created.Attempt))
	return created, nil
}

func (s *store) GetProof(ctx context.Context, proofID uuid.UUID) (*Proof, error) {
	proof, err := s.repo.GetProofByID(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, ErrNotFound
	}
	return proof, nil
}

// GetActiveProof resolves the currently active proof for a milestone. The
// latest attempt is the active one even when terminal: callers check status.
func (s *store) GetActiveProof(ctx context.Context, milestoneID uuid.UUID) (*Proof, error) {
	proof, err := s.repo.GetLatestProof(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, ErrNotFound
	}
	return proof, nil
}

func (s *store) ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]Proof, error) {
	return s.repo.ListProofs(ctx, milestoneID)
}

// Transition performs a compare-and-swap on the proof status. It fails with
// ErrIllegalTransition when from→to is not an edge of the state diagram, and
// with ErrConflict when the stored status no longer matches from — meaning a
// concurrent transition already happened and is authoritative.
func (s *store) Transition(ctx context.Context, proofID uuid.UUID, from, to ProofStatus) (*Proof, error) {
	if !s.sm.CanTransition(string(from), string(to)) {
		return nil, ErrIllegalTransition
	}

	swapped, err := s.repo.CompareAndSwapStatus(ctx, proofID, from, to)
	if err != nil {
		return nil, err
	}
	if !swapped {
		current, getErr := s.repo.GetProofByID(ctx, proofID)
		if getErr == nil && current == nil {
			return nil, ErrNotFound
		}
		s.logger.Warn("Proof transition lost race",
			zap.String("proof_id", proofID.String()),
			zap.String("expected", string(from)),
			zap.String("requested", string(to)))
		return nil, ErrConflict
	}

	s.logger.Info("Proof transitioned",
		zap.String("proof_id", proofID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	return s.repo.GetProofByID(ctx, proofID)
}

func (s *store) RecordOracleReport(ctx context.Context, proofID uuid.UUID, report OracleReport) error {
	return s.repo.SetOracleReport(ctx, proofID, report)
}
