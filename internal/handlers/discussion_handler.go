package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/engine"
	"github.com/plf1996/simFocus/internal/reports"
)

// DiscussionHandler handles discussion lifecycle HTTP requests.
type DiscussionHandler struct {
	orchestrator *engine.Orchestrator
	reports      *reports.Generator
	log          *logrus.Logger
}

func NewDiscussionHandler(o *engine.Orchestrator, r *reports.Generator, log *logrus.Logger) *DiscussionHandler {
	return &DiscussionHandler{orchestrator: o, reports: r, log: log}
}

// CreateDiscussionRequest is the payload for creating a discussion.
type CreateDiscussionRequest struct {
	TopicID        uuid.UUID   `json:"topic_id" binding:"required"`
	DiscussionMode string      `json:"discussion_mode"`
	MaxRounds      int         `json:"max_rounds"`
	PersonaIDs     []uuid.UUID `json:"persona_ids" binding:"required"`
}

// StartDiscussionRequest selects the generation provider for a run.
type StartDiscussionRequest struct {
	Provider string `json:"provider"`
}

// InjectQuestionRequest carries a user question into a running discussion.
type InjectQuestionRequest struct {
	Question string `json:"question" binding:"required"`
}

func (h *DiscussionHandler) Create(c *gin.Context) {
	var req CreateDiscussionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	discussion, err := h.orchestrator.Create(c.Request.Context(), userID(c), &engine.CreateInput{
		TopicID:        req.TopicID,
		DiscussionMode: req.DiscussionMode,
		MaxRounds:      req.MaxRounds,
		PersonaIDs:     req.PersonaIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, discussion)
}

func (h *DiscussionHandler) List(c *gin.Context) {
	offset, limit := pagination(c)
	discussions, err := h.orchestrator.List(c.Request.Context(), userID(c), offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discussions": discussions, "count": len(discussions)})
}

func (h *DiscussionHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	discussion, err := h.orchestrator.Get(c.Request.Context(), id, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, discussion)
}

func (h *DiscussionHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.orchestrator.Delete(c.Request.Context(), id, userID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DiscussionHandler) Start(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req StartDiscussionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	discussion, err := h.orchestrator.Start(c.Request.Context(), id, userID(c), req.Provider)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, discussion)
}

func (h *DiscussionHandler) Pause(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	discussion, err := h.orchestrator.Pause(c.Request.Context(), id, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, discussion)
}

func (h *DiscussionHandler) Resume(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	discussion, err := h.orchestrator.Resume(c.Request.Context(), id, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, discussion)
}

func (h *DiscussionHandler) Stop(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	discussion, err := h.orchestrator.Stop(c.Request.Context(), id, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, discussion)
}

func (h *DiscussionHandler) InjectQuestion(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req InjectQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	msg, err := h.orchestrator.InjectQuestion(c.Request.Context(), id, userID(c), req.Question)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *DiscussionHandler) Messages(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	offset, limit := pagination(c)
	msgs, err := h.orchestrator.ListMessages(c.Request.Context(), id, userID(c), offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

func (h *DiscussionHandler) State(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	// Ownership is checked against the persistent record; the snapshot
	// itself may come straight from cache.
	if _, err := h.orchestrator.Get(c.Request.Context(), id, userID(c)); err != nil {
		writeError(c, err)
		return
	}
	state, err := h.orchestrator.GetState(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *DiscussionHandler) Report(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	report, err := h.reports.GetByDiscussion(c.Request.Context(), id, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RegisterRoutes registers discussion routes on the router group.
func (h *DiscussionHandler) RegisterRoutes(router *gin.RouterGroup) {
	discussions := router.Group("/discussions")
	{
		discussions.POST("", h.Create)
		discussions.GET("", h.List)
		discussions.GET("/:id", h.Get)
		discussions.DELETE("/:id", h.Delete)
		discussions.POST("/:id/start", h.Start)
		discussions.POST("/:id/pause", h.Pause)
		discussions.POST("/:id/resume", h.Resume)
		discussions.POST("/:id/stop", h.Stop)
		discussions.POST("/:id/questions", h.InjectQuestion)
		discussions.GET("/:id/messages", h.Messages)
		discussions.GET("/:id/state", h.State)
		discussions.GET("/:id/report", h.Report)
	}
}
