package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/plf1996/simFocus/internal/engine"
	"github.com/plf1996/simFocus/internal/llm"
	"github.com/plf1996/simFocus/internal/reports"
	"github.com/plf1996/simFocus/internal/store"
)

// NewRouter assembles the full HTTP API.
func NewRouter(
	orchestrator *engine.Orchestrator,
	generator *reports.Generator,
	s store.Store,
	registry *llm.Registry,
	log *logrus.Logger,
) *gin.Engine {
	if log == nil {
		log = logrus.New()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	health := NewHealthHandler(registry)
	RegisterHealthRoutes(&router.RouterGroup, health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(UserAuth())

	NewDiscussionHandler(orchestrator, generator, log).RegisterRoutes(api)
	NewTopicHandler(s).RegisterRoutes(api)

	return router
}

func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= 500 {
			log.WithFields(logrus.Fields{
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
				"status": c.Writer.Status(),
			}).Error("Request failed")
		}
	}
}
