package verification

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldproof/verification-engine/verification-backend/internal/evidence"
	"fieldproof/verification-engine/verification-backend/internal/quorum"
	"fieldproof/verification-engine/verification-backend/internal/screening"
	"fieldproof/verification-engine/verification-backend/internal/settlement"
	"fieldproof/verification-engine/verification-backend/internal/tasks"
	"fieldproof/verification-engine/verification-backend/pkg/storage"
)

type Handler struct {
	service      Service
	objectStore  storage.ObjectStore
	uploadExpiry time.Duration
}

func NewHandler(service Service, objectStore storage.ObjectStore, uploadExpiry time.Duration) *Handler {
	return &Handler{
		service:      service,
		objectStore:  objectStore,
		uploadExpiry: uploadExpiry,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	milestones := rg.Group("/milestones")
	{
		milestones.POST("/:id/proofs", h.SubmitProof)
		milestones.GET("/:id/proofs", h.ListProofs)
		milestones.GET("/:id/proofs/active", h.GetActiveProof)
		milestones.POST("/:id/evidence-uploads", h.PresignEvidenceUpload)
		milestones.GET("/:id/settlement", h.GetSettlement)
	}

	proofs := rg.Group("/proofs")
	{
		proofs.GET("/:id", h.GetProofState)
		proofs.POST("/:id/votes", h.CastVote)
	}

	rg.POST("/screening/results", h.OracleCallback)
}

type submitProofPayload struct {
	BeforeImageRefs []string        `json:"before_image_refs" binding:"required"`
	AfterImageRefs  []string        `json:"after_image_refs" binding:"required"`
	CapturedAt      time.Time       `json:"captured_at"`
	DeviceMeta      json.RawMessage `json:"device_meta"`
}

func (h *Handler) SubmitProof(c *gin.Context) {
	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	var payload submitProofPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.CapturedAt.IsZero() {
		payload.CapturedAt = time.Now()
	}

	result, err := h.service.SubmitProof(c.Request.Context(), milestoneID, SubmitProofRequest{
		BeforeImageRefs: payload.BeforeImageRefs,
		AfterImageRefs:  payload.AfterImageRefs,
		CapturedAt:      payload.CapturedAt,
		DeviceMeta:      payload.DeviceMeta,
		SubmittedBy:     actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) ListProofs(c *gin.Context) {
	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	proofs, err := h.service.ListProofs(c.Request.Context(), milestoneID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proofs)
}

func (h *Handler) GetActiveProof(c *gin.Context) {
	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	proof, err := h.service.GetActiveProof(c.Request.Context(), milestoneID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proof)
}

func (h *Handler) GetProofState(c *gin.Context) {
	proofID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proof id"})
		return
	}

	state, err := h.service.GetProofState(c.Request.Context(), proofID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) GetSettlement(c *gin.Context) {
	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	record, err := h.service.GetSettlement(c.Request.Context(), milestoneID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type castVotePayload struct {
	Vote    quorum.Vote `json:"vote" binding:"required"`
	Comment string      `json:"comment"`
}

func (h *Handler) CastVote(c *gin.Context) {
	proofID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proof id"})
		return
	}

	var payload castVotePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.CastVote(c.Request.Context(), proofID, actorID(c), payload.Vote, payload.Comment)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type oracleCallbackPayload struct {
	ProofID            uuid.UUID `json:"proof_id" binding:"required"`
	Confidence         float64   `json:"confidence"`
	Verdict            string    `json:"verdict" binding:"required"`
	AnnotatedImageRefs []string  `json:"annotated_image_refs"`
}

// OracleCallback receives pushed screening results from the analysis service
func (h *Handler) OracleCallback(c *gin.Context) {
	var payload oracleCallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.service.HandleOracleResult(c.Request.Context(), payload.ProofID, screening.OracleResult{
		Confidence:         payload.Confidence,
		Verdict:            payload.Verdict,
		AnnotatedImageRefs: payload.AnnotatedImageRefs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type presignPayload struct {
	Kind     string `json:"kind" binding:"required"` // "before" or "after"
	FileName string `json:"file_name" binding:"required"`
}

// PresignEvidenceUpload hands the client a short-lived direct-upload URL.
// Image bytes never pass through this engine.
func (h *Handler) PresignEvidenceUpload(c *gin.Context) {
	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	var payload presignPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.Kind != "before" && payload.Kind != "after" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be before or after"})
		return
	}

	key := fmt.Sprintf("%s/%s/%s-%s", milestoneID, payload.Kind, uuid.New(), payload.FileName)
	uploadURL, err := h.objectStore.PresignUpload(c.Request.Context(), key, h.uploadExpiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"upload_url": uploadURL,
		"ref":        h.objectStore.Ref(key),
		"expires_in": h.uploadExpiry.Seconds(),
	})
}

func actorID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get("actor_id"); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	if id, err := uuid.Parse(c.GetHeader("X-Actor-ID")); err == nil {
		return id
	}
	return uuid.Nil
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, evidence.ErrNotFound), errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, settlement.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, evidence.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "InvalidState", "detail": err.Error()})
	case errors.Is(err, evidence.ErrConflict), errors.Is(err, evidence.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "detail": err.Error()})
	case errors.Is(err, quorum.ErrDuplicateVote):
		c.JSON(http.StatusConflict, gin.H{"error": "DuplicateVote", "detail": err.Error()})
	case errors.Is(err, quorum.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "AlreadyResolved", "detail": err.Error()})
	case errors.Is(err, quorum.ErrNotInReview):
		c.JSON(http.StatusConflict, gin.H{"error": "NotInReview", "detail": err.Error()})
	case errors.Is(err, quorum.ErrInvalidVote):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, settlement.ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"error": "AlreadySettled", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
