package quorum

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/internal/evidence"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertVote(ctx context.Context, v *Verification) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockRepository) ListVotes(ctx context.Context, proofID uuid.UUID) ([]Verification, error) {
	args := m.Called(ctx, proofID)
	return args.Get(0).([]Verification), args.Error(1)
}

func (m *MockRepository) ListApproverIDs(ctx context.Context, proofID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, proofID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockEvidenceStore is a mock implementation of evidence.Store
type MockEvidenceStore struct {
	mock.Mock
}

func (m *MockEvidenceStore) CreateProof(ctx context.Context, req evidence.CreateProofRequest) (*evidence.Proof, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evidence.Proof), args.Error(1)
}

func (m *MockEvidenceStore) GetProof(ctx context.Context, proofID uuid.UUID) (*evidence.Proof, error) {
	args := m.Called(ctx, proofID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evidence.Proof), args.Error(1)
}

func (m *MockEvidenceStore) GetActiveProof(ctx context.Context, milestoneID uuid.UUID) (*evidence.Proof, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evidence.Proof), args.Error(1)
}

func (m *MockEvidenceStore) ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]evidence.Proof, error) {
	args := m.Called(ctx, milestoneID)
	return args.Get(0).([]evidence.Proof), args.Error(1)
}

func (m *MockEvidenceStore) Transition(ctx context.Context, proofID uuid.UUID, from, to evidence.ProofStatus) (*evidence.Proof, error) {
	args := m.Called(ctx, proofID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*evidence.Proof), args.Error(1)
}

func (m *MockEvidenceStore) RecordOracleReport(ctx context.Context, proofID uuid.UUID, report evidence.OracleReport) error {
	args := m.Called(ctx, proofID, report)
	return args.Error(0)
}

func votes(approvals, rejections int) []Verification {
	var vs []Verification
	for i := 0; i < approvals; i++ {
		vs = append(vs, Verification{Vote: VoteApprove})
	}
	for i := 0; i < rejections; i++ {
		vs = append(vs, Verification{Vote: VoteReject})
	}
	return vs
}

func TestCastVote(t *testing.T) {
	mockRepo := new(MockRepository)
	mockEvidence := new(MockEvidenceStore)
	ledger := NewLedger(mockRepo, mockEvidence, zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	mockEvidence.On("GetProof", ctx, proofID).Return(&evidence.Proof{
		ID:     proofID,
		Status: evidence.StatusHumanReview,
	}, nil)
	mockRepo.On("InsertVote", ctx, mock.AnythingOfType("*quorum.Verification")).Return(nil)

	v, err := ledger.CastVote(ctx, CastVoteRequest{
		ProofID:    proofID,
		VerifierID: uuid.New(),
		Vote:       VoteApprove,
		Comment:    "repair looks solid",
	})

	assert.NoError(t, err)
	assert.Equal(t, VoteApprove, v.Vote)
	mockRepo.AssertExpectations(t)
}

func TestCastVoteDuplicate(t *testing.T) {
	mockRepo := new(MockRepository)
	mockEvidence := new(MockEvidenceStore)
	ledger := NewLedger(mockRepo, mockEvidence, zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	mockEvidence.On("GetProof", ctx, proofID).Return(&evidence.Proof{
		ID:     proofID,
		Status: evidence.StatusHumanReview,
	}, nil)
	mockRepo.On("InsertVote", ctx, mock.Anything).Return(ErrDuplicateVote)

	_, err := ledger.CastVote(ctx, CastVoteRequest{
		ProofID:    proofID,
		VerifierID: uuid.New(),
		Vote:       VoteReject,
	})

	assert.ErrorIs(t, err, ErrDuplicateVote)
}

func TestCastVoteAlreadyResolved(t *testing.T) {
	mockRepo := new(MockRepository)
	mockEvidence := new(MockEvidenceStore)
	ledger := NewLedger(mockRepo, mockEvidence, zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	mockEvidence.On("GetProof", ctx, proofID).Return(&evidence.Proof{
		ID:     proofID,
		Status: evidence.StatusVerified,
	}, nil)

	_, err := ledger.CastVote(ctx, CastVoteRequest{
		ProofID:    proofID,
		VerifierID: uuid.New(),
		Vote:       VoteApprove,
	})

	assert.ErrorIs(t, err, ErrAlreadyResolved)
	mockRepo.AssertNotCalled(t, "InsertVote")
}

func TestCastVoteDuringScreeningRefused(t *testing.T) {
	// a quorum that completed while the proof was still AI_ANALYZING could
	// never be applied: resolution swaps out of HUMAN_REVIEW only. Early
	// votes are refused instead of silently tallied.
	for _, status := range []evidence.ProofStatus{
		evidence.StatusPending,
		evidence.StatusAIAnalyzing,
		evidence.StatusAIApproved,
		evidence.StatusAIFlagged,
	} {
		t.Run(string(status), func(t *testing.T) {
			mockRepo := new(MockRepository)
			mockEvidence := new(MockEvidenceStore)
			ledger := NewLedger(mockRepo, mockEvidence, zap.NewNop())

			ctx := context.Background()
			proofID := uuid.New()

			mockEvidence.On("GetProof", ctx, proofID).Return(&evidence.Proof{
				ID:     proofID,
				Status: status,
			}, nil)

			_, err := ledger.CastVote(ctx, CastVoteRequest{
				ProofID:    proofID,
				VerifierID: uuid.New(),
				Vote:       VoteApprove,
			})

			assert.ErrorIs(t, err, ErrNotInReview)
			mockRepo.AssertNotCalled(t, "InsertVote")
		})
	}
}

func TestCastVoteInvalidValue(t *testing.T) {
	ledger := NewLedger(new(MockRepository), new(MockEvidenceStore), zap.NewNop())

	_, err := ledger.CastVote(context.Background(), CastVoteRequest{
		ProofID:    uuid.New(),
		VerifierID: uuid.New(),
		Vote:       Vote("ABSTAIN"),
	})

	assert.ErrorIs(t, err, ErrInvalidVote)
}

func TestTallyResolution(t *testing.T) {
	tests := []struct {
		name       string
		approvals  int
		rejections int
		resolved   bool
		outcome    Outcome
	}{
		{"full quorum approves", 3, 0, true, OutcomeVerified},
		{"majority rejection with no approvals", 0, 2, true, OutcomeRejected},
		{"split vote stays open", 2, 1, false, ""},
		{"single rejection stays open", 0, 1, false, ""},
		{"no votes", 0, 0, false, ""},
		{"approvals win even with a rejection", 3, 1, true, OutcomeVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			ledger := NewLedger(mockRepo, new(MockEvidenceStore), zap.NewNop())

			proofID := uuid.New()
			mockRepo.On("ListVotes", mock.Anything, proofID).Return(votes(tt.approvals, tt.rejections), nil)

			result, err := ledger.Tally(context.Background(), proofID, 3, RejectionThreshold(3))

			assert.NoError(t, err)
			assert.Equal(t, tt.approvals, result.Approvals)
			assert.Equal(t, tt.rejections, result.Rejections)
			assert.Equal(t, tt.resolved, result.Resolved)
			if tt.resolved {
				assert.Equal(t, tt.outcome, *result.Outcome)
			} else {
				assert.Nil(t, result.Outcome)
			}
		})
	}
}

func TestRejectionThreshold(t *testing.T) {
	assert.Equal(t, 2, RejectionThreshold(3))
	assert.Equal(t, 1, RejectionThreshold(1))
	assert.Equal(t, 3, RejectionThreshold(5))
	assert.Equal(t, 2, RejectionThreshold(4))
}
