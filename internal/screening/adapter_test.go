package screening

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/internal/evidence"
)

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

// failingOracle always errors, simulating an unreachable analysis service
type failingOracle struct{}

func (f *failingOracle) Analyze(ctx context.Context, req ScreeningRequest) (*OracleResult, error) {
	return nil, errors.New("connection refused")
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.BaseBackoff = time.Millisecond
	p.TotalBudget = time.Second
	return p
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		result   OracleResult
		expected OutcomeKind
	}{
		{"high confidence fixed", OracleResult{Confidence: 0.92, Verdict: VerdictFixed}, OutcomePass},
		{"exactly at high threshold", OracleResult{Confidence: 0.85, Verdict: VerdictFixed}, OutcomePass},
		{"not fixed regardless of confidence", OracleResult{Confidence: 0.95, Verdict: VerdictNotFixed}, OutcomeFail},
		{"low confidence", OracleResult{Confidence: 0.3, Verdict: VerdictFixed}, OutcomeFail},
		{"just below low threshold", OracleResult{Confidence: 0.39, Verdict: VerdictFixed}, OutcomeFail},
		{"ambiguous band", OracleResult{Confidence: 0.6, Verdict: VerdictFixed}, OutcomeAmbiguous},
		{"oracle error", OracleResult{Confidence: 0.9, Verdict: VerdictError}, OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.result, 0.85, 0.4))
		})
	}
}

func TestHandleResultPassFunnelsToHumanReview(t *testing.T) {
	mockEvidence := new(MockEvidenceStore)
	adapter := NewAdapter(&failingOracle{}, mockEvidence, testPolicy(), zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	mockEvidence.On("RecordOracleReport", ctx, proofID, mock.Anything).Return(nil)
	mockEvidence.On("Transition", ctx, proofID, evidence.StatusAIAnalyzing, evidence.StatusAIApproved).
		Return(&evidence.Proof{ID: proofID, Status: evidence.StatusAIApproved}, nil)
	mockEvidence.On("Transition", ctx, proofID, evidence.StatusAIApproved, evidence.StatusHumanReview).
		Return(&evidence.Proof{ID: proofID, Status: evidence.StatusHumanReview}, nil)

	adapter.HandleResult(ctx, proofID, OracleResult{Confidence: 0.95, Verdict: VerdictFixed})

	mockEvidence.AssertExpectations(t)
}

func TestHandleResultFailFlagsThenFunnels(t *testing.T) {
	mockEvidence := new(MockEvidenceStore)
	adapter := NewAdapter(&failingOracle{}, mockEvidence, testPolicy(), zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	mockEvidence.On("RecordOracleReport", ctx, proofID, mock.Anything).Return(nil)
	mockEvidence.On("Transition", ctx, proofID, evidence.StatusAIAnalyzing, evidence.StatusAIFlagged).
		Return(&evidence.Proof{ID: proofID, Status: evidence.StatusAIFlagged}, nil)
	mockEvidence.On("Transition", ctx, proofID, evidence.StatusAIFlagged, evidence.StatusHumanReview).
		Return(&evidence.Proof{ID: proofID, Status: evidence.StatusHumanReview}, nil)

	adapter.HandleResult(ctx, proofID, OracleResult{Confidence: 0.2, Verdict: VerdictNotFixed})

	mockEvidence.AssertExpectations(t)
}

func TestHandleResultAmbiguousGoesStraightToReview(t *testing.T) {
	mockEvidence := new(MockEvidenceStore)
	adapter := NewAdapter(&failingOracle{}, mockEvidence, testPolicy(), zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	mockEvidence.On("RecordOracleReport", ctx, proofID, mock.Anything).Return(nil)
	mockEvidence.On("Transition", ctx, proofID, evidence.StatusAIAnalyzing, evidence.StatusHumanReview).
		Return(&evidence.Proof{ID: proofID, Status: evidence.StatusHumanReview}, nil)

	adapter.HandleResult(ctx, proofID, OracleResult{Confidence: 0.6, Verdict: VerdictFixed})

	mockEvidence.AssertExpectations(t)
	mockEvidence.AssertNumberOfCalls(t, "Transition", 1)
}

func TestHandleResultLateArrivalSwallowsConflict(t *testing.T) {
	mockEvidence := new(MockEvidenceStore)
	adapter := NewAdapter(&failingOracle{}, mockEvidence, testPolicy(), zap.NewNop())

	ctx := context.Background()
	proofID := uuid.New()

	// proof already resolved by human votes; the CAS loses and must not retry
	mockEvidence.On("RecordOracleReport", ctx, proofID, mock.Anything).Return(nil)
	mockEvidence.On("Transition", ctx, proofID, evidence.StatusAIAnalyzing, evidence.StatusAIApproved).
		Return(nil, evidence.ErrConflict)

	adapter.HandleResult(ctx, proofID, OracleResult{Confidence: 0.95, Verdict: VerdictFixed})

	mockEvidence.AssertNumberOfCalls(t, "Transition", 1)
}

func TestRequestScreeningTimeoutRoutesToHumanReview(t *testing.T) {
	mockEvidence := new(MockEvidenceStore)
	adapter := NewAdapter(&failingOracle{}, mockEvidence, testPolicy(), zap.NewNop())

	proofID := uuid.New()
	proof := &evidence.Proof{ID: proofID, Status: evidence.StatusPending}

	reviewed := make(chan struct{})
	mockEvidence.On("Transition", mock.Anything, proofID, evidence.StatusPending, evidence.StatusAIAnalyzing).
		Return(&evidence.Proof{ID: proofID, Status: evidence.StatusAIAnalyzing}, nil)
	mockEvidence.On("Transition", mock.Anything, proofID, evidence.StatusAIAnalyzing, evidence.StatusHumanReview).
		Run(func(args mock.Arguments) { close(reviewed) }).
		Return(&evidence.Proof{ID: proofID, Status: evidence.StatusHumanReview}, nil)

	handle, err := adapter.RequestScreening(context.Background(), proof)
	require.NoError(t, err)
	assert.Equal(t, proofID, handle.ProofID)

	select {
	case <-reviewed:
	case <-time.After(5 * time.Second):
		t.Fatal("proof never reached HUMAN_REVIEW after oracle retries exhausted")
	}
}
