package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service records verification events. Best-effort: a failed audit write is
// logged but never blocks the decision path.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates the audit service and migrates its table
func NewService(db *gorm.DB, logger *zap.Logger) (*Service, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit tables: %w", err)
	}
	return &Service{db: db, logger: logger}, nil
}

// Record persists one event. The payload can be any JSON-serializable value.
func (s *Service) Record(ctx context.Context, eventType string, proofID, taskID, actorID *uuid.UUID, payload interface{}) {
	event := Event{
		ID:        uuid.New(),
		ProofID:   proofID,
		TaskID:    taskID,
		EventType: eventType,
		ActorID:   actorID,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Warn("Failed to encode audit payload", zap.String("event_type", eventType), zap.Error(err))
		} else {
			event.Payload = data
		}
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logger.Warn("Failed to record audit event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// ListByProof returns the trail for a proof, oldest first
func (s *Service) ListByProof(ctx context.Context, proofID uuid.UUID) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).
		Where("proof_id = ?", proofID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

// ListByTask returns the trail for a task, oldest first
func (s *Service) ListByTask(ctx context.Context, taskID uuid.UUID) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
