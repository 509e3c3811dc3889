package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EventType values recorded on the decision path
const (
	EventProofTransition     = "proof.transition"
	EventVoteCast            = "vote.cast"
	EventQuorumResolved      = "quorum.resolved"
	EventSettlementFired     = "settlement.fired"
	EventSettlementConfirmed = "settlement.confirmed"
	EventGeofenceRefused     = "geofence.refused"
)

// Event is one immutable entry in the verification audit trail
type Event struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProofID   *uuid.UUID     `gorm:"type:uuid;index" json:"proof_id,omitempty"`
	TaskID    *uuid.UUID     `gorm:"type:uuid;index" json:"task_id,omitempty"`
	EventType string         `gorm:"size:64;index" json:"event_type"`
	ActorID   *uuid.UUID     `gorm:"type:uuid" json:"actor_id,omitempty"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName overrides the GORM default
func (Event) TableName() string {
	return "audit_events"
}
