// Package client talks to the task REST API. Each method issues exactly one
// request; retrying and interpreting failures is left to the caller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"task-manager/tasksync/internal/dates"
	"task-manager/tasksync/internal/models"

	"golang.org/x/time/rate"
)

const tasksPath = "/api/tasks"

// APIError is returned for any non-2xx response. The body is not inspected.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// countsAsOutage reports whether err means the API is unhealthy. A 4xx
// other than 429 proves the API answered.
func countsAsOutage(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
	Breaker           *CircuitBreakerConfig
	HTTPClient        *http.Client
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8080",
		Timeout: 30 * time.Second,
	}
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
}

func New(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	base := strings.TrimRight(config.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	c := &Client{
		baseURL:    base,
		token:      config.Token,
		httpClient: httpClient,
	}

	if config.RequestsPerMinute > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), burst)
	}

	if config.Breaker != nil {
		c.breaker = NewCircuitBreaker(config.Breaker)
		c.breaker.countsAsOutage = countsAsOutage
	}

	return c, nil
}

// BreakerState reports the circuit breaker state, or closed when none is set.
func (c *Client) BreakerState() CircuitBreakerState {
	if c.breaker == nil {
		return CircuitBreakerClosed
	}
	return c.breaker.State()
}

// BreakerStatus describes the circuit breaker, or a closed one when none is set.
func (c *Client) BreakerStatus() BreakerStatus {
	if c.breaker == nil {
		return BreakerStatus{State: CircuitBreakerClosed.String()}
	}
	return c.breaker.Status()
}

// ListFilter narrows a list request. Nil fields are not sent.
type ListFilter struct {
	Status    *models.Status
	Skip      *int
	Take      *int
	StartDate *string
	EndDate   *string
}

func (f ListFilter) values() url.Values {
	q := url.Values{}
	if f.Status != nil {
		q.Set("status", string(*f.Status))
	}
	if f.Skip != nil {
		q.Set("skip", strconv.Itoa(*f.Skip))
	}
	if f.Take != nil {
		q.Set("take", strconv.Itoa(*f.Take))
	}
	if f.StartDate != nil {
		q.Set("startDate", *f.StartDate)
	}
	if f.EndDate != nil {
		q.Set("endDate", *f.EndDate)
	}
	return q
}

type CountFilter struct {
	Status    *models.Status
	StartDate *string
	EndDate   *string
}

func (f CountFilter) values() url.Values {
	return ListFilter{Status: f.Status, StartDate: f.StartDate, EndDate: f.EndDate}.values()
}

func (c *Client) List(ctx context.Context, filter ListFilter) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, tasksPath, filter.values(), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) Get(ctx context.Context, id string) (models.Task, error) {
	var task models.Task
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, nil, &task)
	return task, err
}

func (c *Client) GetByDay(ctx context.Context, day string) ([]models.Task, error) {
	if !dates.IsDateOnly(day) {
		return nil, fmt.Errorf("invalid day %q: expected YYYY-MM-DD", day)
	}
	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, tasksPath+"/"+day, nil, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) Count(ctx context.Context, filter CountFilter) (int, error) {
	var body struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, tasksPath+"/count", filter.values(), nil, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// Ping checks that the API answers. It is the connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Count(ctx, CountFilter{})
	return err
}

func (c *Client) Create(ctx context.Context, input models.TaskInput) (models.Task, error) {
	due, err := dates.NormalizeDueDate(input.DueDate)
	if err != nil {
		return models.Task{}, err
	}
	input.DueDate = due

	var task models.Task
	err = c.do(ctx, http.MethodPost, tasksPath, nil, input, &task)
	return task, err
}

func (c *Client) Update(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	if patch.DueDate != nil {
		due, err := dates.NormalizeDueDate(*patch.DueDate)
		if err != nil {
			return models.Task{}, err
		}
		patch.DueDate = &due
	}

	var task models.Task
	err := c.do(ctx, http.MethodPut, taskPath(id), nil, patch, &task)
	return task, err
}

func (c *Client) Move(ctx context.Context, id string, move models.MoveInput) (models.Task, error) {
	due, err := dates.NormalizeDueDate(move.DueDate)
	if err != nil {
		return models.Task{}, err
	}
	move.DueDate = due

	var task models.Task
	err = c.do(ctx, http.MethodPut, taskPath(id)+"/move", nil, move, &task)
	return task, err
}

func (c *Client) Reorder(ctx context.Context, id string, order int) (models.Task, error) {
	var task models.Task
	err := c.do(ctx, http.MethodPut, taskPath(id)+"/reorder", nil, models.ReorderInput{Order: order}, &task)
	return task, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil, nil)
}

func taskPath(id string) string {
	return tasksPath + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	call := func() error { return c.roundTrip(ctx, method, path, query, body, out) }
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
