package tasks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	{
		tasks.POST("", h.Create)
		tasks.GET("/:id", h.Get)
		tasks.POST("/:id/accept", h.Accept)
		tasks.POST("/:id/transition", h.Transition)
		tasks.POST("/:id/start", h.StartWork)
		tasks.POST("/:id/dispute", h.Dispute)
		tasks.GET("/:id/milestones", h.ListMilestones)
	}
}

type createTaskPayload struct {
	Title        string    `json:"title" binding:"required"`
	Description  string    `json:"description"`
	BudgetCents  int64     `json:"budget_cents" binding:"required"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	RadiusMeters float64   `json:"radius_meters"`
	Deadline     *time.Time `json:"deadline"`
	Milestones   []struct {
		Title             string `json:"title"`
		AmountCents       int64  `json:"amount_cents"`
		RequiredApprovals int    `json:"required_approvals"`
	} `json:"milestones"`
}

func (h *Handler) Create(c *gin.Context) {
	var payload createTaskPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := CreateTaskRequest{
		ClientID:     actorID(c),
		Title:        payload.Title,
		Description:  payload.Description,
		BudgetCents:  payload.BudgetCents,
		Latitude:     payload.Latitude,
		Longitude:    payload.Longitude,
		RadiusMeters: payload.RadiusMeters,
		Deadline:     payload.Deadline,
	}
	for _, m := range payload.Milestones {
		req.Milestones = append(req.Milestones, MilestoneRequest{
			Title:             m.Title,
			AmountCents:       m.AmountCents,
			RequiredApprovals: m.RequiredApprovals,
		})
	}

	task, err := h.service.CreateTask(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	task, err := h.service.GetTask(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) Accept(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	task, err := h.service.AcceptTask(c.Request.Context(), id, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) Transition(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var payload struct {
		To TaskStatus `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.service.Transition(c.Request.Context(), id, actorID(c), payload.To)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) StartWork(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var payload struct {
		Latitude  float64 `json:"latitude" binding:"required"`
		Longitude float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.StartWork(c.Request.Context(), id, actorID(c), payload.Latitude, payload.Longitude)
	if err != nil {
		if errors.Is(err, ErrOutOfRange) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":           "OutOfRange",
				"allowed":         false,
				"distance_meters": result.DistanceMeters,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Dispute lets the commissioning client contest submitted work instead of
// waiting out the verification quorum.
func (h *Handler) Dispute(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	task, err := h.service.Dispute(c.Request.Context(), id, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) ListMilestones(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	milestones, err := h.service.ListMilestones(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, milestones)
}

// actorID resolves the authenticated caller's identity set by the auth
// middleware, falling back to an explicit header for internal callers.
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
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotAssigned), errors.Is(err, ErrNotClient):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
