package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/plf1996/simFocus/internal/llm"
)

// HealthHandler reports process and provider health.
type HealthHandler struct {
	registry  *llm.Registry
	startedAt time.Time
}

func NewHealthHandler(registry *llm.Registry) *HealthHandler {
	return &HealthHandler{registry: registry, startedAt: time.Now()}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string   `json:"status"`
	Uptime    string   `json:"uptime"`
	Providers []string `json:"providers"`
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Providers: h.registry.Names(),
	})
}

// ProviderHealth runs each provider's health check. Failures return 503.
func (h *HealthHandler) ProviderHealth(c *gin.Context) {
	ctx := c.Request.Context()
	results := make(map[string]string)
	healthy := true
	for _, name := range h.registry.Names() {
		provider, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		if err := provider.HealthCheck(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
		} else {
			results[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"providers": results})
}

// RegisterHealthRoutes registers health routes on the router group.
func RegisterHealthRoutes(r *gin.RouterGroup, h *HealthHandler) {
	r.GET("/health", h.Health)
	r.GET("/health/providers", h.ProviderHealth)
}
