package screening

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Verdict values on the oracle wire contract
const (
	VerdictFixed    = "fixed"
	VerdictNotFixed = "not_fixed"
	VerdictError    = "error"
)

// ErrOracleUnavailable means the screening call exhausted its retry budget.
// Recovered automatically by routing the proof to human review, never
// surfaced to the end user.
var ErrOracleUnavailable = errors.New("screening oracle unavailable")

// ScreeningRequest is the outbound payload to the visual-analysis service
type ScreeningRequest struct {
	ProofID         uuid.UUID `json:"proof_id"`
	BeforeImageRefs []string  `json:"before_image_refs"`
	AfterImageRefs  []string  `json:"after_image_refs"`
}

// OracleResult is the normalized inbound result
type OracleResult struct {
	Confidence         float64  `json:"confidence"`
	Verdict            string   `json:"verdict"`
	AnnotatedImageRefs []string `json:"annotated_image_refs,omitempty"`
}

// Handle identifies an in-flight screening request
type Handle struct {
	ProofID     uuid.UUID `json:"proof_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// OutcomeKind is the tagged classification of an oracle result. Routing
// switches over it exhaustively so every case has an explicit destination.
type OutcomeKind int

const (
	// OutcomePass: positive verdict with high confidence
	OutcomePass OutcomeKind = iota
	// OutcomeFail: negative verdict or low confidence
	OutcomeFail
	// OutcomeAmbiguous: confidence in the band between thresholds
	OutcomeAmbiguous
	// OutcomeError: the oracle itself reported an error
	OutcomeError
)

// Classify maps a raw oracle result into an outcome given the confidence
// thresholds.
func Classify(res OracleResult, highThreshold, lowThreshold float64) OutcomeKind {
	if res.Verdict == VerdictError {
		return OutcomeError
	}
	if res.Verdict == VerdictNotFixed || res.Confidence < lowThreshold {
		return OutcomeFail
	}
	if res.Verdict == VerdictFixed && res.Confidence >= highThreshold {
		return OutcomePass
	}
	return OutcomeAmbiguous
}
