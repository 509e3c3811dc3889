package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trigger translates a verified proof into a durable settlement intent and
// hands it to the external ledger exactly once per milestone.
type Trigger interface {
	Fire(ctx context.Context, milestoneID, proofID uuid.UUID, approverIDs []uuid.UUID) (*Record, error)
	GetRecord(ctx context.Context, milestoneID uuid.UUID) (*Record, error)
	RetryPending(ctx context.Context, batchSize int) (int, error)
}

// ConfirmHook runs after a record reaches CONFIRMED, e.g. to advance the
// owning task to PAID. May be nil.
type ConfirmHook func(ctx context.Context, record *Record)

type trigger struct {
	repo        Repository
	ledger      LedgerClient
	onConfirmed ConfirmHook
	logger      *zap.Logger
}

func NewTrigger(repo Repository, ledger LedgerClient, onConfirmed ConfirmHook, logger *zap.Logger) Trigger {
	return &trigger{
		repo:        repo,
		ledger:      ledger,
		onConfirmed: onConfirmed,
		logger:      logger,
	}
}

// Fire records the release decision and submits it to the ledger. The atomic
// per-milestone flag is the idempotency guard: a second call fails with
// ErrAlreadySettled before anything reaches the ledger. A failed ledger call
// leaves the record PENDING_EXTERNAL for the retry sweep — a verified release
// is never dropped silently.
func (t *trigger) Fire(ctx context.Context, milestoneID, proofID uuid.UUID, approverIDs []uuid.UUID) (*Record, error) {
	claimed, err := t.repo.MarkMilestoneSettled(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		t.logger.Error("Settlement idempotency violation",
			zap.String("milestone_id", milestoneID.String()),
			zap.String("proof_id", proofID.String()))
		return nil, ErrAlreadySettled
	}

	approvers := make([]string, len(approverIDs))
	for i, id := range approverIDs {
		approvers[i] = id.String()
	}

	record := &Record{
		ID:          uuid.New(),
		MilestoneID: milestoneID,
		ProofID:     proofID,
		ApproverIDs: approvers,
		DecidedAt:   time.Now(),
		Status:      StatusPendingExternal,
	}
	if err := t.repo.InsertRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist settlement record: %w", err)
	}

	t.logger.Info("Settlement fired",
		zap.String("milestone_id", milestoneID.String()),
		zap.String("proof_id", proofID.String()),
		zap.Int("approvers", len(approvers)))

	t.submit(ctx, record)
	return record, nil
}

func (t *trigger) GetRecord(ctx context.Context, milestoneID uuid.UUID) (*Record, error) {
	record, err := t.repo.GetRecordByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

// RetryPending re-submits records the ledger never acknowledged. Run from the
// sweep worker.
func (t *trigger) RetryPending(ctx context.Context, batchSize int) (int, error) {
	pending, err := t.repo.ListPending(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for i := range pending {
		if t.submit(ctx, &pending[i]) {
			confirmed++
		}
	}

	if len(pending) > 0 {
		t.logger.Info("Settlement sweep completed",
			zap.Int("pending", len(pending)),
			zap.Int("confirmed", confirmed))
	}
	return confirmed, nil
}

// submit sends the intent to the ledger and confirms the record on success.
// Returns true when the record reached CONFIRMED.
func (t *trigger) submit(ctx context.Context, record *Record) bool {
	intent := Intent{
		MilestoneID: record.MilestoneID,
		ProofID:     record.ProofID,
		ApproverIDs: record.ApproverIDs,
		DecidedAt:   record.DecidedAt,
	}

	receipt, err := t.ledger.Submit(ctx, intent)
	if err != nil {
		t.logger.Warn("Ledger submission failed, record stays pending",
			zap.String("milestone_id", record.MilestoneID.String()),
			zap.Error(err))
		return false
	}
	if !receipt.Accepted {
		t.logger.Warn("Ledger refused release",
			zap.String("milestone_id", record.MilestoneID.String()),
			zap.String("reference", receipt.Reference))
		return false
	}

	if err := t.repo.ConfirmRecord(ctx, record.ID, receipt.Reference); err != nil {
		t.logger.Error("Failed to confirm settlement record",
			zap.String("record_id", record.ID.String()),
			zap.Error(err))
		return false
	}

	t.logger.Info("Settlement confirmed",
		zap.String("milestone_id", record.MilestoneID.String()),
		zap.String("reference", receipt.Reference))

	record.Status = StatusConfirmed
	record.LedgerReference = &receipt.Reference
	if t.onConfirmed != nil {
		t.onConfirmed(ctx, record)
	}
	return true
}
