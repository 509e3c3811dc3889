package screening

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/internal/evidence"
)

// Policy bounds the oracle call. Screening is an optimization, never a hard
// dependency: when the budget is exhausted the proof moves to human review.
type Policy struct {
	MaxRetries    int
	TotalBudget   time.Duration
	BaseBackoff   time.Duration
	HighThreshold float64
	LowThreshold  float64
}

// DefaultPolicy returns the default screening policy
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    2,
		TotalBudget:   90 * time.Second,
		BaseBackoff:   2 * time.Second,
		HighThreshold: 0.85,
		LowThreshold:  0.4,
	}
}

// Adapter wraps the external oracle behind the proof transition contract
type Adapter struct {
	oracle   OracleClient
	evidence evidence.Store
	policy   Policy
	logger   *zap.Logger
}

func NewAdapter(oracle OracleClient, evidenceStore evidence.Store, policy Policy, logger *zap.Logger) *Adapter {
	return &Adapter{
		oracle:   oracle,
		evidence: evidenceStore,
		policy:   policy,
		logger:   logger,
	}
}

// RequestScreening moves the proof into AI_ANALYZING and fires the oracle
// call in the background. No lock is held across the network call; the
// asynchronous resolution goes back through the CAS transition primitive.
func (a *Adapter) RequestScreening(ctx context.Context, proof *evidence.Proof) (*Handle, error) {
	if _, err := a.evidence.Transition(ctx, proof.ID, evidence.StatusPending, evidence.StatusAIAnalyzing); err != nil {
		return nil, err
	}

	req := ScreeningRequest{
		ProofID:         proof.ID,
		BeforeImageRefs: proof.BeforeImageRefs,
		AfterImageRefs:  proof.AfterImageRefs,
	}

	go a.runScreening(req)

	return &Handle{ProofID: proof.ID, RequestedAt: time.Now()}, nil
}

// runScreening retries the oracle within the total budget, then either routes
// the result or force-transitions the proof to human review. Runs detached
// from the submitting request's context.
func (a *Adapter) runScreening(req ScreeningRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), a.policy.TotalBudget)
	defer cancel()

	backoff := a.policy.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= a.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				a.failOpen(req.ProofID, ctx.Err())
				return
			}
		}

		result, err := a.oracle.Analyze(ctx, req)
		if err == nil {
			a.HandleResult(context.Background(), req.ProofID, *result)
			return
		}
		lastErr = err
		a.logger.Warn("Oracle attempt failed",
			zap.String("proof_id", req.ProofID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	a.failOpen(req.ProofID, lastErr)
}

// failOpen routes a proof whose screening never completed into human review
func (a *Adapter) failOpen(proofID uuid.UUID, cause error) {
	a.logger.Warn("Screening budget exhausted, routing to human review",
		zap.String("proof_id", proofID.String()),
		zap.NamedError("cause", cause),
		zap.Error(ErrOracleUnavailable))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := a.evidence.Transition(ctx, proofID, evidence.StatusAIAnalyzing, evidence.StatusHumanReview); err != nil {
		if errors.Is(err, evidence.ErrConflict) {
			// a concurrent result or vote already moved the proof on
			return
		}
		a.logger.Error("Failed to fail-open proof", zap.String("proof_id", proofID.String()), zap.Error(err))
	}
}

// HandleResult records the raw oracle report and routes the proof per policy.
// AI_APPROVED and AI_FLAGGED are transient audit labels: both funnel into
// HUMAN_REVIEW, since human quorum approval is mandatory for every release.
// A lost CAS means an authoritative concurrent transition already happened;
// it is logged and swallowed, never retried.
func (a *Adapter) HandleResult(ctx context.Context, proofID uuid.UUID, result OracleResult) {
	if err := a.evidence.RecordOracleReport(ctx, proofID, evidence.OracleReport{
		Confidence:    result.Confidence,
		Verdict:       result.Verdict,
		AnnotatedRefs: result.AnnotatedImageRefs,
	}); err != nil {
		a.logger.Error("Failed to record oracle report",
			zap.String("proof_id", proofID.String()), zap.Error(err))
	}

	outcome := Classify(result, a.policy.HighThreshold, a.policy.LowThreshold)

	var label evidence.ProofStatus
	switch outcome {
	case OutcomePass:
		label = evidence.StatusAIApproved
	case OutcomeFail:
		label = evidence.StatusAIFlagged
	case OutcomeAmbiguous, OutcomeError:
		a.transition(ctx, proofID, evidence.StatusAIAnalyzing, evidence.StatusHumanReview)
		return
	}

	if !a.transition(ctx, proofID, evidence.StatusAIAnalyzing, label) {
		return
	}
	a.transition(ctx, proofID, label, evidence.StatusHumanReview)
}

func (a *Adapter) transition(ctx context.Context, proofID uuid.UUID, from, to evidence.ProofStatus) bool {
	if _, err := a.evidence.Transition(ctx, proofID, from, to); err != nil {
		if errors.Is(err, evidence.ErrConflict) {
			a.logger.Info("Screening transition superseded",
				zap.String("proof_id", proofID.String()),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
			return false
		}
		a.logger.Error("Screening transition failed",
			zap.String("proof_id", proofID.String()), zap.Error(err))
		return false
	}
	return true
}
