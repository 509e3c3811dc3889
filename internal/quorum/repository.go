package quorum

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type Repository interface {
	InsertVote(ctx context.Context, v *Verification) error
	ListVotes(ctx context.Context, proofID uuid.UUID) ([]Verification, error)
	ListApproverIDs(ctx context.Context, proofID uuid.UUID) ([]uuid.UUID, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// InsertVote relies on the unique index on (proof_id, verifier_id) so the
// one-vote-per-verifier invariant holds under concurrent requests, not just
// in application logic.
func (r *postgresRepository) InsertVote(ctx context.Context, v *Verification) error {
	query := `
		INSERT INTO verifications (id, proof_id, verifier_id, vote, comment)
		VALUES (:id, :proof_id, :verifier_id, :vote, :comment)`
	_, err := r.db.NamedExecContext(ctx, query, v)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateVote
		}
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListVotes(ctx context.Context, proofID uuid.UUID) ([]Verification, error) {
	var votes []Verification
	err := r.db.SelectContext(ctx, &votes,
		"SELECT * FROM verifications WHERE proof_id = $1 ORDER BY created_at ASC", proofID)
	return votes, err
}

func (r *postgresRepository) ListApproverIDs(ctx context.Context, proofID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		"SELECT verifier_id FROM verifications WHERE proof_id = $1 AND vote = 'APPROVE' ORDER BY created_at ASC", proofID)
	return ids, err
}
