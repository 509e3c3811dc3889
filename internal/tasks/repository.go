package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTaskByID(ctx context.Context, id uuid.UUID) (*Task, error)
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to TaskStatus) (bool, error)
	AssignWorker(ctx context.Context, id, workerID uuid.UUID) (bool, error)
	RecordWorkStart(ctx context.Context, id uuid.UUID, lat, lon float64, distance *float64) (bool, error)
	Archive(ctx context.Context, id uuid.UUID) error

	CreateMilestone(ctx context.Context, m *Milestone) error
	GetMilestoneByID(ctx context.Context, id uuid.UUID) (*Milestone, error)
	ListMilestones(ctx context.Context, taskID uuid.UUID) ([]Milestone, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateTask(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO tasks (
			id, client_id, title, description, budget_cents,
			latitude, longitude, radius_meters, deadline, status
		) VALUES (
			:id, :client_id, :title, :description, :budget_cents,
			:latitude, :longitude, :radius_meters, :deadline, :status
		)`
	_, err := r.db.NamedExecContext(ctx, query, task)
	return err
}

func (r *postgresRepository) GetTaskByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	var task Task
	err := r.db.GetContext(ctx, &task, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &task, err
}

func (r *postgresRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to TaskStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AssignWorker claims an open task for a worker. The status guard makes two
// concurrent accepts mutually exclusive.
func (r *postgresRepository) AssignWorker(ctx context.Context, id, workerID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET worker_id = $1, status = 'ACCEPTED', updated_at = NOW() WHERE id = $2 AND status = 'OPEN'",
		workerID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordWorkStart applies the ARRIVED -> IN_PROGRESS transition together with
// the geofence capture in a single conditional update.
func (r *postgresRepository) RecordWorkStart(ctx context.Context, id uuid.UUID, lat, lon float64, distance *float64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = 'IN_PROGRESS',
			started_at = $1,
			start_latitude = $2,
			start_longitude = $3,
			start_distance_m = $4,
			updated_at = NOW()
		WHERE id = $5 AND status = 'ARRIVED'`,
		time.Now(), lat, lon, distance, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *postgresRepository) Archive(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET archived_at = NOW(), updated_at = NOW() WHERE id = $1 AND archived_at IS NULL", id)
	return err
}

func (r *postgresRepository) CreateMilestone(ctx context.Context, m *Milestone) error {
	query := `
		INSERT INTO milestones (id, task_id, title, amount_cents, required_approvals)
		VALUES (:id, :task_id, :title, :amount_cents, :required_approvals)`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return err
}

func (r *postgresRepository) GetMilestoneByID(ctx context.Context, id uuid.UUID) (*Milestone, error) {
	var m Milestone
	err := r.db.GetContext(ctx, &m, "SELECT * FROM milestones WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &m, err
}

func (r *postgresRepository) ListMilestones(ctx context.Context, taskID uuid.UUID) ([]Milestone, error) {
	var ms []Milestone
	err := r.db.SelectContext(ctx, &ms,
		"SELECT * FROM milestones WHERE task_id = $1 ORDER BY created_at ASC", taskID)
	return ms, err
}
