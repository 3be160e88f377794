package client

import (
	"errors"
	"sync"
	"time"
)

type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerStatus is a point-in-time view of the breaker guarding the API.
type BreakerStatus struct {
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TrialSuccesses      int        `json:"trial_successes"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	RetryAt             *time.Time `json:"retry_at,omitempty"`
}

// CircuitBreaker stops calling the API after repeated outages and lets a
// few trial requests through once the cool-down has elapsed. Errors for
// which countsAsOutage reports false pass through without tripping it.
type CircuitBreaker struct {
	mu             sync.Mutex
	state          CircuitBreakerState
	failures       int
	trialSuccesses int
	trialsInFlight int
	openedAt       time.Time
	now            func() time.Time
	countsAsOutage func(error) bool

	maxFailures int
	coolDown    time.Duration
	maxTrials   int
}

type CircuitBreakerConfig struct {
	MaxFailures      int           `json:"max_failures"`
	Timeout          time.Duration `json:"timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	return &CircuitBreaker{
		state:          CircuitBreakerClosed,
		now:            time.Now,
		countsAsOutage: func(err error) bool { return err != nil },
		maxFailures:    config.MaxFailures,
		coolDown:       config.Timeout,
		maxTrials:      config.HalfOpenMaxCalls,
	}
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.settle(err != nil && cb.countsAsOutage(err))
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitBreakerOpen {
		if cb.now().Before(cb.openedAt.Add(cb.coolDown)) {
			return false
		}
		cb.state = CircuitBreakerHalfOpen
		cb.trialSuccesses = 0
		cb.trialsInFlight = 0
	}
	if cb.state == CircuitBreakerHalfOpen {
		if cb.trialsInFlight >= cb.maxTrials {
			return false
		}
		cb.trialsInFlight++
	}
	return true
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(outage bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if outage {
		cb.failures++
		if cb.state == CircuitBreakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.trip()
		}
		return
	}

	if cb.state != CircuitBreakerHalfOpen {
		cb.failures = 0
		return
	}
	cb.trialSuccesses++
	if cb.trialSuccesses >= cb.maxTrials {
		cb.state = CircuitBreakerClosed
		cb.failures = 0
		cb.trialSuccesses = 0
		cb.trialsInFlight = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = CircuitBreakerOpen
	cb.openedAt = cb.now()
	cb.trialSuccesses = 0
	cb.trialsInFlight = 0
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := BreakerStatus{
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		TrialSuccesses:      cb.trialSuccesses,
	}
	if cb.state == CircuitBreakerOpen {
		openedAt, retryAt := cb.openedAt, cb.openedAt.Add(cb.coolDown)
		status.OpenedAt = &openedAt
		status.RetryAt = &retryAt
	}
	return status
}
