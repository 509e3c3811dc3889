package settlement

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	MarkMilestoneSettled(ctx context.Context, milestoneID uuid.UUID) (bool, error)
	InsertRecord(ctx context.Context, record *Record) error
	GetRecordByMilestone(ctx context.Context, milestoneID uuid.UUID) (*Record, error)
	ConfirmRecord(ctx context.Context, id uuid.UUID, reference string) error
	ListPending(ctx context.Context, limit int) ([]Record, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// MarkMilestoneSettled flips the per-milestone settlement flag atomically.
// Returns false when the flag was already set — the only way a milestone can
// settle twice is if this guard is bypassed.
func (r *postgresRepository) MarkMilestoneSettled(ctx context.Context, milestoneID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE milestones SET settlement_fired = TRUE WHERE id = $1 AND settlement_fired = FALSE",
		milestoneID)
	if err != nil {
		return false, fmt.Errorf("failed to mark milestone settled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *postgresRepository) InsertRecord(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO settlement_records (
			id, milestone_id, proof_id, approver_ids, decided_at, status
		) VALUES (
			:id, :milestone_id, :proof_id, :approver_ids, :decided_at, :status
		)`
	_, err := r.db.NamedExecContext(ctx, query, record)
	return err
}

func (r *postgresRepository) GetRecordByMilestone(ctx context.Context, milestoneID uuid.UUID) (*Record, error) {
	var record Record
	err := r.db.GetContext(ctx, &record,
		"SELECT * FROM settlement_records WHERE milestone_id = $1", milestoneID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &record, err
}

func (r *postgresRepository) ConfirmRecord(ctx context.Context, id uuid.UUID, reference string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE settlement_records SET status = 'CONFIRMED', ledger_reference = $1, updated_at = NOW() WHERE id = $2",
		reference, id)
	return err
}

func (r *postgresRepository) ListPending(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := r.db.SelectContext(ctx, &records,
		"SELECT * FROM settlement_records WHERE status = 'PENDING_EXTERNAL' ORDER BY created_at ASC LIMIT $1",
		limit)
	return records, err
}
