// Package monitoring serves the local status endpoints of a running agent.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"task-manager/tasksync/internal/dates"
	"task-manager/tasksync/internal/models"
	"task-manager/tasksync/internal/offline"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Source is the sync store as seen by the status endpoints.
type Source interface {
	UserID() string
	Online() bool
	Stats() map[string]interface{}
	TasksForDay(day string) []models.Task
	SyncPendingActions(ctx context.Context) (offline.ReplayResult, error)
}

type RouterConfig struct {
	CORSOrigins []string
	Health      *HealthChecker
	Now         func() time.Time
}

type Handler struct {
	source  Source
	health  *HealthChecker
	metrics *Metrics
	now     func() time.Time
}

func NewRouter(source Source, config RouterConfig) *gin.Engine {
	h := &Handler{
		source:  source,
		health:  config.Health,
		metrics: NewMetrics(),
		now:     config.Now,
	}
	if h.health == nil {
		h.health = NewHealthChecker()
	}
	if h.now == nil {
		h.now = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = config.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))
	router.Use(MetricsMiddleware(h.metrics))

	router.GET("/health", h.Health)
	router.GET("/status", h.Status)
	router.GET("/metrics", h.Metrics)
	router.POST("/sync", h.Sync)
	router.GET("/tasks/:day", h.TasksForDay)

	return router
}

func (h *Handler) Health(c *gin.Context) {
	checks := h.health.Run(c.Request.Context())

	overallStatus := "healthy"
	for _, check := range checks {
		if check.Status != "healthy" {
			overallStatus = "unhealthy"
			break
		}
	}

	status := http.StatusOK
	if overallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    overallStatus,
		"timestamp": h.now(),
		"checks":    checks,
		"uptime":    time.Since(h.metrics.StartTime).String(),
	})
}

func (h *Handler) Status(c *gin.Context) {
	stats := h.source.Stats()
	c.JSON(http.StatusOK, gin.H{
		"user_id":    h.source.UserID(),
		"online":     h.source.Online(),
		"pending":    stats["pending"],
		"last_error": stats["last_error"],
		"sync":       stats,
		"uptime":     time.Since(h.metrics.StartTime).String(),
		"timestamp":  h.now(),
	})
}

func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"application": h.metrics.Snapshot(),
		"system":      GetSystemMetrics(h.metrics.StartTime),
		"timestamp":   h.now(),
	})
}

func (h *Handler) Sync(c *gin.Context) {
	if !h.source.Online() {
		c.JSON(http.StatusConflict, gin.H{"error": "offline"})
		return
	}

	result, err := h.source.SyncPendingActions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) TasksForDay(c *gin.Context) {
	day := c.Param("day")
	if day == "today" {
		day = dates.TodayPT(h.now())
	}
	if !dates.IsDateOnly(day) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
		return
	}

	tasks := h.source.TasksForDay(day)
	c.JSON(http.StatusOK, gin.H{"day": day, "tasks": tasks})
}
