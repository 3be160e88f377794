// Package fakeapi is an in-memory implementation of the task REST API with
// failure injection. It backs the client and store tests and the
// `tasksync mock-api` command.
package fakeapi

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"task-manager/tasksync/internal/dates"
	"task-manager/tasksync/internal/models"
	"task-manager/tasksync/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// Call is one request the server received.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type Server struct {
	mu       sync.Mutex
	tasks    map[string]models.Task
	calls    []Call
	failNext int
	down     bool
	secret   string
	now      func() time.Time
	engine   *gin.Engine
}

type Option func(*Server)

// WithSecret makes the server verify HS256 bearer tokens.
func WithSecret(secret string) Option {
	return func(s *Server) { s.secret = secret }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		tasks: make(map[string]models.Task),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(s.record(), s.faults(), s.auth())

	api := router.Group("/api/tasks")
	api.GET("", s.listTasks)
	api.GET("/count", s.countTasks)
	api.GET("/:id", s.getTask)
	api.POST("", s.createTask)
	api.PUT("/:id", s.updateTask)
	api.PUT("/:id/move", s.moveTask)
	api.PUT("/:id/reorder", s.reorderTask)
	api.DELETE("/:id", s.deleteTask)

	s.engine = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// FailNext makes the next n requests answer 500.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// SetDown makes every request answer 503 until cleared.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Server) Seed(tasks ...models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
}

// Tasks returns the stored tasks sorted by due date, then order.
func (s *Server) Tasks() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns the recorded calls with the given method.
func (s *Server) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Server) record() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body string
		if c.Request.Body != nil {
			data, _ := c.GetRawData()
			body = string(data)
			c.Request.Body = io.NopCloser(bytes.NewReader(data))
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
			Body:   body,
		})
		s.mu.Unlock()
		c.Next()
	}
}

func (s *Server) faults() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		down := s.down
		fail := s.failNext > 0
		if fail {
			s.failNext--
		}
		s.mu.Unlock()

		if down {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
			return
		}
		if fail {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
			return
		}
		c.Next()
	}
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if s.secret == "" {
			if strings.HasPrefix(header, "Bearer ") {
				if user, err := session.UserFromToken(header, s.now()); err == nil {
					c.Set("user_id", user)
				}
			}
			c.Next()
			return
		}

		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_token",
				"message": "Authorization header must use Bearer token",
			})
			return
		}
		user, err := session.VerifyToken(s.secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Token validation failed",
			})
			return
		}
		c.Set("user_id", user)
		c.Next()
	}
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, ok := s.filtered(c)
	if !ok {
		return
	}

	skip, _ := strconv.Atoi(c.Query("skip"))
	if skip > len(tasks) {
		skip = len(tasks)
	}
	tasks = tasks[skip:]
	if takeStr := c.Query("take"); takeStr != "" {
		if take, err := strconv.Atoi(takeStr); err == nil && take < len(tasks) {
			tasks = tasks[:take]
		}
	}

	c.JSON(http.StatusOK, tasks)
}

func (s *Server) countTasks(c *gin.Context) {
	tasks, ok := s.filtered(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(tasks)})
}

func (s *Server) filtered(c *gin.Context) ([]models.Task, bool) {
	var start, end *time.Time
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"startDate", &start}, {"endDate", &end}} {
		if v := c.Query(p.name); v != "" {
			t, err := dates.ParseDueDate(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return nil, false
			}
			*p.dst = &t
		}
	}
	status := models.Status(c.Query("status"))

	s.mu.Lock()
	all := s.sortedLocked()
	s.mu.Unlock()

	out := make([]models.Task, 0, len(all))
	for _, t := range all {
		if status != "" && t.Status != status {
			continue
		}
		if start != nil && t.DueDate.Before(*start) {
			continue
		}
		if end != nil && t.DueDate.After(*end) {
			continue
		}
		out = append(out, t)
	}
	return out, true
}

func (s *Server) getTask(c *gin.Context) {
	id := c.Param("id")
	if dates.IsDateOnly(id) {
		s.mu.Lock()
		all := s.sortedLocked()
		s.mu.Unlock()

		out := make([]models.Task, 0)
		for _, t := range all {
			if t.Day() == id {
				out = append(out, t)
			}
		}
		models.SortByOrder(out)
		c.JSON(http.StatusOK, out)
		return
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) createTask(c *gin.Context) {
	var input models.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := uuid.NewV4()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate task ID"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := ""
	if due, err := dates.ParseDueDate(input.DueDate); err == nil {
		day = dates.ToDateStringPT(due)
	}
	task, err := models.NewTaskFromInput(taskID.String(), c.GetString("user_id"), input,
		models.NextOrder(s.sortedLocked(), day), s.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.tasks[task.ID] = task
	c.JSON(http.StatusCreated, task)
}

func (s *Server) updateTask(c *gin.Context) {
	var patch models.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mutate(c, func(t models.Task) (models.Task, error) {
		return t.ApplyPatch(patch, s.now())
	})
}

func (s *Server) moveTask(c *gin.Context) {
	var move models.MoveInput
	if err := c.ShouldBindJSON(&move); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mutate(c, func(t models.Task) (models.Task, error) {
		return t.ApplyMove(move)
	})
}

func (s *Server) reorderTask(c *gin.Context) {
	var body models.ReorderInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mutate(c, func(t models.Task) (models.Task, error) {
		return t.ApplyReorder(body.Order), nil
	})
}

func (s *Server) mutate(c *gin.Context, fn func(models.Task) (models.Task, error)) {
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	updated, err := fn(task)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.tasks[id] = updated
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteTask(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	delete(s.tasks, id)
	c.Status(http.StatusNoContent)
}

func (s *Server) sortedLocked() []models.Task {
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}
