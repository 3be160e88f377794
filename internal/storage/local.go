package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"task-manager/tasksync/internal/models"
)

func TasksKey(userID string) string {
	return "tasks:" + userID
}

func PendingKey(userID string) string {
	return "pendingActions:" + userID
}

// Local keeps the task snapshot and pending queue of each user under two
// namespaced keys. Missing or undecodable values read as "no cached data".
type Local struct {
	kv     KV
	logger *log.Logger
}

func NewLocal(kv KV, logger *log.Logger) *Local {
	if logger == nil {
		logger = log.Default()
	}
	return &Local{kv: kv, logger: logger}
}

func (l *Local) KV() KV {
	return l.kv
}

// LoadTasks returns the cached snapshot and whether one was found.
func (l *Local) LoadTasks(ctx context.Context, userID string) ([]models.Task, bool) {
	var tasks []models.Task
	if !l.load(ctx, TasksKey(userID), &tasks) {
		return nil, false
	}
	return tasks, true
}

func (l *Local) SaveTasks(ctx context.Context, userID string, tasks []models.Task) error {
	if tasks == nil {
		tasks = []models.Task{}
	}
	return l.save(ctx, TasksKey(userID), tasks)
}

func (l *Local) LoadPending(ctx context.Context, userID string) ([]models.PendingAction, bool) {
	var actions []models.PendingAction
	if !l.load(ctx, PendingKey(userID), &actions) {
		return nil, false
	}
	return actions, true
}

func (l *Local) SavePending(ctx context.Context, userID string, actions []models.PendingAction) error {
	if actions == nil {
		actions = []models.PendingAction{}
	}
	return l.save(ctx, PendingKey(userID), actions)
}

// Clear drops both keys of userID.
func (l *Local) Clear(ctx context.Context, userID string) error {
	return errors.Join(
		l.kv.Delete(ctx, TasksKey(userID)),
		l.kv.Delete(ctx, PendingKey(userID)),
	)
}

func (l *Local) load(ctx context.Context, key string, dest interface{}) bool {
	raw, err := l.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.logger.Printf("[storage] failed to read %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		l.logger.Printf("[storage] ignoring corrupt %s: %v", key, err)
		return false
	}
	return true
}

func (l *Local) save(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := l.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}
