package tasks

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusAccepted   TaskStatus = "ACCEPTED"
	StatusEnRoute    TaskStatus = "EN_ROUTE"
	StatusArrived    TaskStatus = "ARRIVED"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusSubmitted  TaskStatus = "SUBMITTED"
	StatusVerified   TaskStatus = "VERIFIED"
	StatusDisputed   TaskStatus = "DISPUTED"
	StatusPaid       TaskStatus = "PAID"
)

var (
	// ErrOutOfRange means the worker is outside the task's geofence.
	// Retryable by moving closer.
	ErrOutOfRange = errors.New("worker outside task geofence")

	// ErrNotFound means the task or milestone does not exist
	ErrNotFound = errors.New("task not found")

	// ErrIllegalTransition means the requested lifecycle transition is not allowed
	ErrIllegalTransition = errors.New("task transition not allowed")

	// ErrConflict means a concurrent transition won the race
	ErrConflict = errors.New("task status changed concurrently")

	// ErrNotAssigned means the caller is not the task's assigned worker
	ErrNotAssigned = errors.New("worker not assigned to task")

	// ErrNotClient means the caller is not the task's commissioning client
	ErrNotClient = errors.New("caller is not the task client")
)

// Task is a unit of commissioned physical work. Archived once PAID or
// permanently DISPUTED, never physically deleted.
type Task struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	ClientID     uuid.UUID  `json:"client_id" db:"client_id"`
	WorkerID     *uuid.UUID `json:"worker_id,omitempty" db:"worker_id"`
	Title        string     `json:"title" db:"title"`
	Description  string     `json:"description" db:"description"`
	BudgetCents  int64      `json:"budget_cents" db:"budget_cents"`
	Latitude     *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64   `json:"longitude,omitempty" db:"longitude"`
	RadiusMeters float64    `json:"radius_meters" db:"radius_meters"`
	Deadline     *time.Time `json:"deadline,omitempty" db:"deadline"`
	Status       TaskStatus `json:"status" db:"status"`

	// geofence capture at the moment work began
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	StartLatitude  *float64   `json:"start_latitude,omitempty" db:"start_latitude"`
	StartLongitude *float64   `json:"start_longitude,omitempty" db:"start_longitude"`
	StartDistanceM *float64   `json:"start_distance_m,omitempty" db:"start_distance_m"`

	ArchivedAt *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// HasLocation reports whether the task declares a physical location. Without
// one the geofence check is vacuously satisfied.
func (t *Task) HasLocation() bool {
	return t.Latitude != nil && t.Longitude != nil
}

// Milestone is a payable checkpoint within a task. RequiredApprovals is
// per-milestone configuration, not a global constant.
type Milestone struct {
	ID                uuid.UUID `json:"id" db:"id"`
	TaskID            uuid.UUID `json:"task_id" db:"task_id"`
	Title             string    `json:"title" db:"title"`
	AmountCents       int64     `json:"amount_cents" db:"amount_cents"`
	RequiredApprovals int       `json:"required_approvals" db:"required_approvals"`
	SettlementFired   bool      `json:"settlement_fired" db:"settlement_fired"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// GeofenceResult is returned to the caller of the start-work transition
type GeofenceResult struct {
	Allowed        bool     `json:"allowed"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}
