// Package offline keeps the active user's tasks usable without a network.
// Mutations are applied locally, sent to the server when online, and
// queued as pending actions otherwise; the queue is replayed once
// connectivity returns.
package offline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"task-manager/tasksync/internal/client"
	"task-manager/tasksync/internal/models"
	"task-manager/tasksync/internal/retry"

	"github.com/gofrs/uuid"
)

// Remote is the subset of the task API the store calls.
type Remote interface {
	List(ctx context.Context, filter client.ListFilter) ([]models.Task, error)
	GetByDay(ctx context.Context, day string) ([]models.Task, error)
	Create(ctx context.Context, input models.TaskInput) (models.Task, error)
	Update(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error)
	Move(ctx context.Context, id string, move models.MoveInput) (models.Task, error)
	Reorder(ctx context.Context, id string, order int) (models.Task, error)
	Delete(ctx context.Context, id string) error
}

// Persistence mirrors the store to durable storage. Load methods report
// false when nothing usable is stored.
type Persistence interface {
	LoadTasks(ctx context.Context, userID string) ([]models.Task, bool)
	SaveTasks(ctx context.Context, userID string, tasks []models.Task) error
	LoadPending(ctx context.Context, userID string) ([]models.PendingAction, bool)
	SavePending(ctx context.Context, userID string, actions []models.PendingAction) error
}

type Options struct {
	Remote      Remote
	Persistence Persistence
	Clock       func() time.Time
	NewTempID   func() string
	Retry       retry.Policy
	Logger      *log.Logger
	Online      bool
}

type Store struct {
	remote    Remote
	persist   Persistence
	now       func() time.Time
	newTempID func() string
	policy    retry.Policy
	logger    *log.Logger
	metrics   *Metrics

	mu    sync.RWMutex
	state State
	// aliases maps confirmed temporary ids to their server ids.
	aliases map[string]string

	locks     *keyedMutex
	persistMu sync.Mutex
	replayMu  sync.Mutex
}

func New(opts Options) (*Store, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if opts.Persistence == nil {
		return nil, fmt.Errorf("persistence is required")
	}

	s := &Store{
		remote:    opts.Remote,
		persist:   opts.Persistence,
		now:       opts.Clock,
		newTempID: opts.NewTempID,
		policy:    opts.Retry,
		logger:    opts.Logger,
		metrics:   NewMetrics(),
		state:     NewState(opts.Online),
		aliases:   make(map[string]string),
		locks:     newKeyedMutex(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newTempID == nil {
		s.newTempID = defaultTempID
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.policy.Logger == nil {
		s.policy.Logger = s.logger
	}
	return s, nil
}

func defaultTempID() string {
	return models.TempIDPrefix + uuid.Must(uuid.NewV4()).String()
}

// Open starts a session for userID and hydrates it from persistence.
// Opening a different user resets the previous session first.
func (s *Store) Open(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}

	s.mu.Lock()
	current := s.state.UserID
	s.mu.Unlock()
	if current == userID {
		return nil
	}

	tasks, _ := s.persist.LoadTasks(ctx, userID)
	pending, _ := s.persist.LoadPending(ctx, userID)

	s.mu.Lock()
	s.aliases = make(map[string]string)
	s.state = Reduce(s.state, Hydrate{UserID: userID, Tasks: tasks, Pending: pending})
	s.mu.Unlock()

	s.logger.Printf("[offline] opened session for %s: %d tasks, %d pending actions", userID, len(tasks), len(pending))
	return nil
}

// Close ends the session. Persisted data is left in place.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, Reset{})
	s.aliases = make(map[string]string)
}

// SetOnline updates connectivity. Going from offline to online replays
// the pending queue before returning.
func (s *Store) SetOnline(ctx context.Context, online bool) error {
	s.mu.Lock()
	was := s.state.Online
	s.state = Reduce(s.state, SetOnline{Online: online})
	s.mu.Unlock()

	if was == online {
		return nil
	}
	s.logger.Printf("[offline] connectivity changed: online=%t", online)
	if online {
		_, err := s.SyncPendingActions(ctx)
		return err
	}
	return nil
}

func (s *Store) dispatch(actions ...Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		s.state = Reduce(s.state, a)
	}
	return s.state
}

func (s *Store) current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) session() (userID string, online bool, err error) {
	st := s.current()
	if st.UserID == "" {
		return "", false, ErrNoUser
	}
	return st.UserID, st.Online, nil
}

// resolve follows a confirmed temporary id to its server id.
func (s *Store) resolve(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if server, ok := s.aliases[id]; ok {
		return server
	}
	return id
}

// acquire locks the task id that id currently resolves to.
func (s *Store) acquire(id string) (string, func()) {
	for {
		target := s.resolve(id)
		unlock := s.locks.Lock(target)
		if s.resolve(id) == target {
			return target, unlock
		}
		unlock()
	}
}

func (s *Store) persistTasks(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	st := s.current()
	if st.UserID == "" {
		return
	}
	if err := s.persist.SaveTasks(ctx, st.UserID, st.TaskList()); err != nil {
		s.logger.Printf("[offline] failed to persist tasks: %v", err)
	}
}

func (s *Store) persistPending(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	st := s.current()
	if st.UserID == "" {
		return
	}
	if err := s.persist.SavePending(ctx, st.UserID, st.Pending); err != nil {
		s.logger.Printf("[offline] failed to persist pending actions: %v", err)
	}
}

func (s *Store) enqueue(ctx context.Context, kind models.ActionKind, taskID string, payload models.ActionPayload) error {
	action, err := models.NewPendingAction(kind, taskID, payload, s.now())
	if err != nil {
		return err
	}
	s.dispatch(Enqueue{Action: action})
	s.metrics.RecordEnqueue()
	s.persistPending(ctx)
	return nil
}

func (s *Store) Tasks() []models.Task {
	return s.current().TaskList()
}

func (s *Store) Buckets() map[string][]models.Task {
	return s.current().BucketTasks()
}

func (s *Store) TasksForDay(day string) []models.Task {
	return s.current().TasksForDay(day)
}

func (s *Store) Pending() []models.PendingAction {
	return clonePending(s.current().Pending)
}

func (s *Store) Online() bool {
	return s.current().Online
}

func (s *Store) Loading() bool {
	return s.current().Loading
}

func (s *Store) LastError() string {
	return s.current().LastError
}

func (s *Store) UserID() string {
	return s.current().UserID
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	return s.current().clone()
}

func (s *Store) Metrics() Metrics {
	return s.metrics.GetStats()
}

func (s *Store) Stats() map[string]interface{} {
	st := s.current()
	m := s.metrics.GetStats()
	return map[string]interface{}{
		"user_id":         st.UserID,
		"online":          st.Online,
		"tasks":           len(st.Tasks),
		"days":            len(st.Buckets),
		"pending":         len(st.Pending),
		"last_error":      st.LastError,
		"remote_calls":    m.RemoteCalls,
		"remote_failures": m.RemoteFailures,
		"failure_rate":    s.metrics.FailureRate(),
		"enqueued":        m.Enqueued,
		"replayed":        m.Replayed,
		"replay_failures": m.ReplayFailures,
		"dropped":         m.Dropped,
		"cache_fallbacks": m.CacheFallbacks,
	}
}
