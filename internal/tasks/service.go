package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldproof/verification-engine/verification-backend/internal/audit"
	"fieldproof/verification-engine/verification-backend/pkg/geofence"
	"fieldproof/verification-engine/verification-backend/pkg/workflows"
)

// Recorder receives audit events from the task lifecycle
type Recorder interface {
	Record(ctx context.Context, eventType string, proofID, taskID, actorID *uuid.UUID, payload interface{})
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, string, *uuid.UUID, *uuid.UUID, *uuid.UUID, interface{}) {
}

type Service interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	AcceptTask(ctx context.Context, taskID, workerID uuid.UUID) (*Task, error)
	Transition(ctx context.Context, taskID, workerID uuid.UUID, to TaskStatus) (*Task, error)
	StartWork(ctx context.Context, taskID, workerID uuid.UUID, lat, lon float64) (*GeofenceResult, error)
	Dispute(ctx context.Context, taskID, clientID uuid.UUID) (*Task, error)

	GetMilestone(ctx context.Context, id uuid.UUID) (*Milestone, error)
	ListMilestones(ctx context.Context, taskID uuid.UUID) ([]Milestone, error)

	// terminal transitions driven by the verification engine
	MarkSubmitted(ctx context.Context, taskID uuid.UUID) error
	MarkResubmitting(ctx context.Context, taskID uuid.UUID) error
	MarkVerified(ctx context.Context, taskID uuid.UUID) error
	MarkDisputed(ctx context.Context, taskID uuid.UUID) error
	MarkPaid(ctx context.Context, taskID uuid.UUID) error
}

type CreateTaskRequest struct {
	ClientID     uuid.UUID
	Title        string
	Description  string
	BudgetCents  int64
	Latitude     *float64
	Longitude    *float64
	RadiusMeters float64
	Deadline     *time.Time
	Milestones   []MilestoneRequest
}

type MilestoneRequest struct {
	Title             string
	AmountCents       int64
	RequiredApprovals int
}

type service struct {
	repo                     Repository
	sm                       *workflows.StateMachine
	defaultRequiredApprovals int
	audit                    Recorder
	logger                   *zap.Logger
}

func NewService(repo Repository, defaultRequiredApprovals int, recorder Recorder, logger *zap.Logger) Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &service{
		repo:                     repo,
		sm:                       workflows.NewTaskStateMachine(),
		defaultRequiredApprovals: defaultRequiredApprovals,
		audit:                    recorder,
		logger:                   logger,
	}
}

// CreateTask creates a task with its milestones. A task without explicit
// milestones gets one implicit milestone covering the full budget.
func (s *service) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	task := &Task{
		ID:           uuid.New(),
		ClientID:     req.ClientID,
		Title:        req.Title,
		Description:  req.Description,
		BudgetCents:  req.BudgetCents,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		RadiusMeters: req.RadiusMeters,
		Deadline:     req.Deadline,
		Status:       StatusOpen,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	milestones := req.Milestones
	if len(milestones) == 0 {
		milestones = []MilestoneRequest{{Title: req.Title, AmountCents: req.BudgetCents}}
	}
	for _, mr := range milestones {
		required := mr.RequiredApprovals
		if required <= 0 {
			required = s.defaultRequiredApprovals
		}
		m := &Milestone{
			ID:                uuid.New(),
			TaskID:            task.ID,
			Title:             mr.Title,
			AmountCents:       mr.AmountCents,
			RequiredApprovals: required,
		}
		if err := s.repo.CreateMilestone(ctx, m); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Task created",
		zap.String("task_id", task.ID.String()),
		zap.Int("milestones", len(milestones)))
	return task, nil
}

func (s *service) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	task, err := s.repo.GetTaskByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	return task, nil
}

func (s *service) AcceptTask(ctx context.Context, taskID, workerID uuid.UUID) (*Task, error) {
	claimed, err := s.repo.AssignWorker(ctx, taskID, workerID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		task, getErr := s.repo.GetTaskByID(ctx, taskID)
		if getErr == nil && task == nil {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return s.GetTask(ctx, taskID)
}

// Transition applies worker-driven lifecycle moves (EN_ROUTE, ARRIVED)
func (s *service) Transition(ctx context.Context, taskID, workerID uuid.UUID, to TaskStatus) (*Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.WorkerID == nil || *task.WorkerID != workerID {
		return nil, ErrNotAssigned
	}
	if !s.sm.CanTransition(string(task.Status), string(to)) {
		return nil, ErrIllegalTransition
	}

	swapped, err := s.repo.CompareAndSwapStatus(ctx, taskID, task.Status, to)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, ErrConflict
	}
	return s.GetTask(ctx, taskID)
}

// StartWork gates the ARRIVED -> IN_PROGRESS transition on physical presence.
// A task with no declared location is vacuously in range and work may start
// anywhere; the recorded distance stays null.
func (s *service) StartWork(ctx context.Context, taskID, workerID uuid.UUID, lat, lon float64) (*GeofenceResult, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.WorkerID == nil || *task.WorkerID != workerID {
		return nil, ErrNotAssigned
	}

	var distance *float64
	if task.HasLocation() {
		d := geofence.DistanceMeters(lat, lon, *task.Latitude, *task.Longitude)
		distance = &d
		if d > task.RadiusMeters {
			s.logger.Info("Work start refused outside geofence",
				zap.String("task_id", taskID.String()),
				zap.Float64("distance_m", d),
				zap.Float64("radius_m", task.RadiusMeters))
			s.audit.Record(ctx, audit.EventGeofenceRefused, nil, &taskID, &workerID, map[string]interface{}{
				"distance_m": d,
				"radius_m":   task.RadiusMeters,
			})
			return &GeofenceResult{Allowed: false, DistanceMeters: distance}, ErrOutOfRange
		}
	}

	swapped, err := s.repo.RecordWorkStart(ctx, taskID, lat, lon, distance)
	if err != nil {
		return nil, err
	}
	if !swapped {
		if !s.sm.CanTransition(string(task.Status), string(StatusInProgress)) {
			return nil, ErrIllegalTransition
		}
		return nil, ErrConflict
	}

	return &GeofenceResult{Allowed: true, DistanceMeters: distance}, nil
}

func (s *service) GetMilestone(ctx context.Context, id uuid.UUID) (*Milestone, error) {
	m, err := s.repo.GetMilestoneByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *service) ListMilestones(ctx context.Context, taskID uuid.UUID) ([]Milestone, error) {
	return s.repo.ListMilestones(ctx, taskID)
}

func (s *service) MarkSubmitted(ctx context.Context, taskID uuid.UUID) error {
	return s.engineTransition(ctx, taskID, StatusInProgress, StatusSubmitted)
}

// MarkResubmitting loops a rejected submission back so the worker can redo
// the evidence cycle. No new geofence check: arrival was a property of the
// visit, not of the evidence.
func (s *service) MarkResubmitting(ctx context.Context, taskID uuid.UUID) error {
	return s.engineTransition(ctx, taskID, StatusSubmitted, StatusInProgress)
}

func (s *service) MarkVerified(ctx context.Context, taskID uuid.UUID) error {
	return s.engineTransition(ctx, taskID, StatusSubmitted, StatusVerified)
}

// Dispute is the client's rejection of submitted work, taking the task to its
// DISPUTED terminal state. Only the commissioning client may dispute.
func (s *service) Dispute(ctx context.Context, taskID, clientID uuid.UUID) (*Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ClientID != clientID {
		return nil, ErrNotClient
	}
	if err := s.MarkDisputed(ctx, taskID); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

func (s *service) MarkDisputed(ctx context.Context, taskID uuid.UUID) error {
	if err := s.engineTransition(ctx, taskID, StatusSubmitted, StatusDisputed); err != nil {
		return err
	}
	return s.repo.Archive(ctx, taskID)
}

func (s *service) MarkPaid(ctx context.Context, taskID uuid.UUID) error {
	if err := s.engineTransition(ctx, taskID, StatusVerified, StatusPaid); err != nil {
		return err
	}
	return s.repo.Archive(ctx, taskID)
}

func (s *service) engineTransition(ctx context.Context, taskID uuid.UUID, from, to TaskStatus) error {
	swapped, err := s.repo.CompareAndSwapStatus(ctx, taskID, from, to)
	if err != nil {
		return err
	}
	if !swapped {
		s.logger.Warn("Engine task transition lost race",
			zap.String("task_id", taskID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return ErrConflict
	}
	return nil
}
