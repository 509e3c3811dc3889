package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertProof(ctx context.Context, proof *Proof) (bool, error) {
	args := m.Called(ctx, proof)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetProofByID(ctx context.Context, id uuid.UUID) (*Proof, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Proof), args.Error(1)
}

func (m *MockRepository) GetLatestProof(ctx context.Context, milestoneID uuid.UUID) (*Proof, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Proof), args.Error(1)
}

func (m *MockRepository) ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]Proof, error) {
	args := m.Called(ctx, milestoneID)
	return args.Get(0).([]Proof), args.Error(1)
}

func (m *MockRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to ProofStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) SetOracleReport(ctx context.Context, id uuid.UUID, report OracleReport) error {
	args := m.Called(ctx, id, report)
	return args.Error(0)
}

func TestCreateProof(t *testing.T) {
	mockRepo := new(MockRepository)
	store := NewStore(mockRepo, zap.NewNop())

	ctx := context.Background()
	req := CreateProofRequest{
		MilestoneID:     uuid.New(),
		BeforeImageRefs: []string{"s3://evidence/before-1.jpg"},
		AfterImageRefs:  []string{"s3://evidence/after-1.jpg"},
		CapturedAt:      time.Now(),
		SubmittedBy:     uuid.New(),
	}

	mockRepo.On("InsertProof", ctx, mock.AnythingOfType("*evidence.Proof")).Return(true, nil)
	mockRepo.On("GetProofByID", ctx, mock.AnythingOfType("uuid.UUID")).Return(&Proof{
		MilestoneID: req.MilestoneID,
		Attempt:     1,
		Status:      StatusPending,
	}, nil)

	proof, err := store.CreateProof(ctx, req)

	assert.NoError(t, err)
	assert.Equal(t, StatusPending, proof.Status)
	assert.Equal(t, 1, proof.Attempt)
	mockRepo.AssertExpectations(t)
}

func TestCreateProofActiveProofExists(t *testing.T) {
	mockRepo := new(MockRepository)
	store := NewStore(mockRepo, zap.NewNop())

	ctx := context.Background()
	// the guarded insert rejected the row: an active non-terminal proof exists
	mockRepo.On("InsertProof", ctx, mock.AnythingOfType("*evidence.Proof")).Return(false, nil)

	_, err := store.CreateProof(ctx, CreateProofRequest{MilestoneID: uuid.New()})

	assert.ErrorIs(t, err, ErrInvalidState)
	mockRepo.AssertExpectations(t)
}

func TestCreateProofConcurrentSubmissionLoser(t *testing.T) {
	mockRepo := new(MockRepository)
	store := NewStore(mockRepo, zap.NewNop())

	ctx := context.Background()
	// two submissions raced past the NOT EXISTS guard; the partial unique
	// index rejected the second insert, which the repository reports the same
	// way as a guard miss
	mockRepo.On("InsertProof", ctx, mock.Anything).Return(false, nil)

	_, err := store.CreateProof(ctx, CreateProofRequest{MilestoneID: uuid.New()})

	assert.ErrorIs(t, err, ErrInvalidState)
	mockRepo.AssertNotCalled(t, "GetProofByID")
}

func TestTransitionSuccess(t *testing.T) {
	mockRepo := new(MockRepository)
	store := NewStore(mockRepo, zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	mockRepo.On("CompareAndSwapStatus", ctx, proofID, StatusPending, StatusAIAnalyzing).Return(true, nil)
	mockRepo.On("GetProofByID", ctx, proofID).Return(&Proof{ID: proofID, Status: StatusAIAnalyzing}, nil)

	proof, err := store.Transition(ctx, proofID, StatusPending, StatusAIAnalyzing)

	assert.NoError(t, err)
	assert.Equal(t, StatusAIAnalyzing, proof.Status)
	mockRepo.AssertExpectations(t)
}

func TestTransitionConflict(t *testing.T) {
	mockRepo := new(MockRepository)
	store := NewStore(mockRepo, zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	// a human vote already resolved the proof; the late oracle result loses
	mockRepo.On("CompareAndSwapStatus", ctx, proofID, StatusAIAnalyzing, StatusAIApproved).Return(false, nil)
	mockRepo.On("GetProofByID", ctx, proofID).Return(&Proof{ID: proofID, Status: StatusVerified}, nil)

	_, err := store.Transition(ctx, proofID, StatusAIAnalyzing, StatusAIApproved)

	assert.ErrorIs(t, err, ErrConflict)
	mockRepo.AssertExpectations(t)
}

func TestTransitionIllegalEdge(t *testing.T) {
	mockRepo := new(MockRepository)
	store := NewStore(mockRepo, zap.NewNop())

	_, err := store.Transition(context.Background(), uuid.New(), StatusVerified, StatusPending)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = store.Transition(context.Background(), uuid.New(), StatusPending, StatusVerified)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	mockRepo.AssertNotCalled(t, "CompareAndSwapStatus")
}

func TestGetActiveProofNotFound(t *testing.T) {
	mockRepo := new(MockRepository)
	store := NewStore(mockRepo, zap.NewNop())

	ctx := context.Background()
	milestoneID := uuid.New()
	mockRepo.On("GetLatestProof", ctx, milestoneID).Return(nil, nil)

	_, err := store.GetActiveProof(ctx, milestoneID)
	assert.ErrorIs(t, err, ErrNotFound)
}
