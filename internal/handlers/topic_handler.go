package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plf1996/simFocus/internal/models"
	"github.com/plf1996/simFocus/internal/store"
)

// TopicHandler handles topic and persona HTTP requests.
type TopicHandler struct {
	store store.Store
}

func NewTopicHandler(s store.Store) *TopicHandler {
	return &TopicHandler{store: s}
}

// CreateTopicRequest is the payload for creating a topic.
type CreateTopicRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Context     string `json:"context"`
}

// CreatePersonaRequest is the payload for creating a persona.
type CreatePersonaRequest struct {
	Name      string         `json:"name" binding:"required"`
	AvatarURL string         `json:"avatar_url"`
	Config    map[string]any `json:"config"`
}

func (h *TopicHandler) CreateTopic(c *gin.Context) {
	var req CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	topic := &models.Topic{
		UserID:      userID(c),
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		Status:      models.TopicStatusReady,
	}
	if err := h.store.CreateTopic(c.Request.Context(), topic); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, topic)
}

func (h *TopicHandler) GetTopic(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	topic, err := h.store.GetTopic(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if topic.UserID != userID(c) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}
	c.JSON(http.StatusOK, topic)
}

func (h *TopicHandler) CreatePersona(c *gin.Context) {
	var req CreatePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	persona := &models.Persona{
		UserID:    userID(c),
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		Config:    req.Config,
	}
	if err := h.store.CreatePersona(c.Request.Context(), persona); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, persona)
}

func (h *TopicHandler) GetPersona(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	persona, err := h.store.GetPersona(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, persona)
}

// RegisterRoutes registers topic and persona routes on the router group.
func (h *TopicHandler) RegisterRoutes(router *gin.RouterGroup) {
	topics := router.Group("/topics")
	{
		topics.POST("", h.CreateTopic)
		topics.GET("/:id", h.GetTopic)
	}
	personas := router.Group("/personas")
	{
		personas.POST("", h.CreatePersona)
		personas.GET("/:id", h.GetPersona)
	}
}
