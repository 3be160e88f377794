package offline

import (
	"context"
	"errors"
	"fmt"

	"task-manager/tasksync/internal/client"
	"task-manager/tasksync/internal/models"
)

// errWithdrawn means the action left the queue while replay was running.
var errWithdrawn = errors.New("action withdrawn")

type ReplayResult struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
	Dropped  int `json:"dropped"`
	// Skipped is set when another replay was already running.
	Skipped bool `json:"skipped"`
}

// SyncPendingActions sends queued actions to the server oldest first.
// Each action is tried once; failures stay queued for the next replay and
// actions the server reports as not found are dropped. Once an action
// fails, later actions for the same task wait for the next pass so they
// never land ahead of it. A pass ends with one authoritative refresh of
// the collection.
//
// Offline, no user or an empty queue make this a no-op. Concurrent calls
// collapse into the one already running.
func (s *Store) SyncPendingActions(ctx context.Context) (ReplayResult, error) {
	if !s.replayMu.TryLock() {
		return ReplayResult{Skipped: true}, nil
	}
	defer s.replayMu.Unlock()

	st := s.current()
	if !st.Online || st.UserID == "" || len(st.Pending) == 0 {
		return ReplayResult{}, nil
	}

	queue := models.SortedByEnqueueTime(st.Pending)
	s.logger.Printf("[offline] replaying %d pending actions", len(queue))

	var result ReplayResult
	rewrites := make(map[string]string)
	blocked := make(map[string]bool)
	for _, action := range queue {
		if server, ok := rewrites[action.TaskID]; ok {
			action = action.WithTaskID(server)
		}
		if blocked[action.TaskID] {
			result.Failed++
			s.logger.Printf("[offline] %s %s waits behind an earlier failure", action.Kind, action.TaskID)
			continue
		}
		if action.Kind != models.ActionCreate && models.IsTempID(action.TaskID) {
			result.Failed++
			blocked[action.TaskID] = true
			s.logger.Printf("[offline] %s %s waits for its CREATE", action.Kind, action.TaskID)
			continue
		}

		err := s.replayOne(ctx, action, rewrites)
		if errors.Is(err, errWithdrawn) {
			continue
		}
		s.metrics.RecordReplay(err)
		switch {
		case err == nil:
			result.Replayed++
		case client.IsNotFound(err):
			result.Dropped++
			s.metrics.RecordDrop()
			s.dispatch(Dequeue{ID: action.ID})
			s.persistPending(ctx)
			s.logger.Printf("[offline] dropping %s %s: %v", action.Kind, action.TaskID, err)
		default:
			result.Failed++
			blocked[action.TaskID] = true
			s.logger.Printf("[offline] replay of %s %s failed: %v", action.Kind, action.TaskID, err)
		}
	}

	tasks, err := s.remote.List(ctx, client.ListFilter{})
	s.metrics.RecordRemote(err)
	if err != nil {
		s.logger.Printf("[offline] refresh after replay failed: %v", err)
		return result, fmt.Errorf("failed to refresh tasks after replay: %w", err)
	}
	s.dispatch(SetTasks{Tasks: tasks})
	if result.Failed == 0 {
		s.dispatch(SetError{})
	}
	s.persistTasks(ctx)
	return result, nil
}

func (s *Store) replayOne(ctx context.Context, action models.PendingAction, rewrites map[string]string) error {
	if err := action.Validate(); err != nil {
		return err
	}

	id, unlock := s.acquire(action.TaskID)
	defer unlock()

	if !s.isPending(action.ID) {
		return errWithdrawn
	}

	var (
		task models.Task
		err  error
	)
	switch action.Kind {
	case models.ActionCreate:
		task, err = s.remote.Create(ctx, *action.Payload.Input)
	case models.ActionUpdate:
		task, err = s.remote.Update(ctx, id, *action.Payload.Patch)
	case models.ActionMove:
		task, err = s.remote.Move(ctx, id, *action.Payload.Move)
	case models.ActionReorder:
		task, err = s.remote.Reorder(ctx, id, *action.Payload.Order)
	case models.ActionDelete:
		err = s.remote.Delete(ctx, id)
	}
	s.metrics.RecordRemote(err)
	if err != nil {
		return err
	}

	switch action.Kind {
	case models.ActionCreate:
		rewrites[action.TaskID] = task.ID
		s.dispatch(Dequeue{ID: action.ID})
		s.confirm(action.TaskID, task)
	case models.ActionDelete:
		s.dispatch(Dequeue{ID: action.ID}, RemoveTask{ID: id})
	default:
		s.dispatch(Dequeue{ID: action.ID}, UpsertTask{Task: task})
	}
	s.persistPending(ctx)
	s.persistTasks(ctx)
	return nil
}

func (s *Store) isPending(actionID string) bool {
	for _, p := range s.current().Pending {
		if p.ID == actionID {
			return true
		}
	}
	return false
}
