package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type Repository interface {
	InsertProof(ctx context.Context, proof *Proof) (bool, error)
	GetProofByID(ctx context.Context, id uuid.UUID) (*Proof, error)
	GetLatestProof(ctx context.Context, milestoneID uuid.UUID) (*Proof, error)
	ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]Proof, error)
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to ProofStatus) (bool, error)
	SetOracleReport(ctx context.Context, id uuid.UUID, report OracleReport) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// InsertProof inserts the proof only if the milestone has no active
// non-terminal proof. The NOT EXISTS guard rejects the common case cheaply,
// but two statements racing at READ COMMITTED can each pass it before either
// row is visible: the partial unique index on proofs (milestone_id) WHERE
// status <> 'REJECTED' is the authoritative arbiter, and its unique violation
// is reported the same way as a guard miss.
// Returns false when the insert was rejected.
func (r *postgresRepository) InsertProof(ctx context.Context, proof *Proof) (bool, error) {
	query := `
		INSERT INTO proofs (
			id, milestone_id, attempt, before_image_refs, after_image_refs,
			status, captured_at, device_meta, submitted_by
		)
		SELECT $1, $2,
			COALESCE((SELECT MAX(attempt) FROM proofs WHERE milestone_id = $2), 0) + 1,
			$3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM proofs
			WHERE milestone_id = $2 AND status NOT IN ('REJECTED')
		)`
	res, err := r.db.ExecContext(ctx, query,
		proof.ID, proof.MilestoneID,
		proof.BeforeImageRefs, proof.AfterImageRefs,
		proof.Status, proof.CapturedAt, proof.DeviceMeta, proof.SubmittedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert proof: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *postgresRepository) GetProofByID(ctx context.Context, id uuid.UUID) (*Proof, error) {
	var proof Proof
	err := r.db.GetContext(ctx, &proof, "SELECT * FROM proofs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &proof, err
}

func (r *postgresRepository) GetLatestProof(ctx context.Context, milestoneID uuid.UUID) (*Proof, error) {
	var proof Proof
	err := r.db.GetContext(ctx, &proof,
		"SELECT * FROM proofs WHERE milestone_id = $1 ORDER BY attempt DESC LIMIT 1", milestoneID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &proof, err
}

func (r *postgresRepository) ListProofs(ctx context.Context, milestoneID uuid.UUID) ([]Proof, error) {
	var proofs []Proof
	err := r.db.SelectContext(ctx, &proofs,
		"SELECT * FROM proofs WHERE milestone_id = $1 ORDER BY attempt ASC", milestoneID)
	return proofs, err
}

// CompareAndSwapStatus applies the conditional update that makes concurrent
// transitions race-free. Returns false when the stored status no longer
// matches the expected prior status.
func (r *postgresRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to ProofStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE proofs SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition proof %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func (r *postgresRepository) SetOracleReport(ctx context.Context, id uuid.UUID, report OracleReport) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE proofs SET ai_confidence = $1, ai_verdict = $2, annotated_refs = $3, updated_at = NOW() WHERE id = $4",
		report.Confidence, report.Verdict, pq.StringArray(report.AnnotatedRefs), id)
	return err
}
