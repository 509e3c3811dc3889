package workflows

// StateMachine enforces status transitions for a single entity type
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewTaskStateMachine returns the state machine for task lifecycle statuses
func NewTaskStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"OPEN":        {"ACCEPTED"},
			"ACCEPTED":    {"EN_ROUTE"},
			"EN_ROUTE":    {"ARRIVED"},
			"ARRIVED":     {"IN_PROGRESS"},
			"IN_PROGRESS": {"SUBMITTED"},
			"SUBMITTED":   {"VERIFIED", "DISPUTED", "IN_PROGRESS"}, // rejection loops back for resubmission
			"VERIFIED":    {"PAID"},
			"DISPUTED":    {},
			"PAID":        {},
		},
	}
}

// NewProofStateMachine returns the state machine for proof statuses.
// AI_APPROVED and AI_FLAGGED are transient labels; both funnel into
// HUMAN_REVIEW before any terminal state.
func NewProofStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"PENDING":      {"AI_ANALYZING"},
			"AI_ANALYZING": {"AI_APPROVED", "AI_FLAGGED", "HUMAN_REVIEW"},
			"AI_APPROVED":  {"HUMAN_REVIEW"},
			"AI_FLAGGED":   {"HUMAN_REVIEW"},
			"HUMAN_REVIEW": {"VERIFIED", "REJECTED"},
			"VERIFIED":     {},
			"REJECTED":     {},
		},
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// IsTerminal reports whether a status has no outgoing transitions
func (sm *StateMachine) IsTerminal(status string) bool {
	allowed, exists := sm.allowedTransitions[status]
	return exists && len(allowed) == 0
}
