package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"task-manager/tasksync/internal/client"
	"task-manager/tasksync/internal/dates"
	"task-manager/tasksync/internal/models"
	"task-manager/tasksync/internal/retry"
)

// CreateTask adds a task. The optimistic copy carries a temporary id and
// is shown immediately; when the server confirms, its version replaces it.
// Failures and offline creates leave the optimistic task in place with a
// queued CREATE.
func (s *Store) CreateTask(ctx context.Context, in models.TaskInput) (models.Task, error) {
	userID, online, err := s.session()
	if err != nil {
		return models.Task{}, err
	}
	if err := in.Validate(); err != nil {
		return models.Task{}, err
	}
	due, err := dates.ParseDueDate(in.DueDate)
	if err != nil {
		return models.Task{}, err
	}

	tempID := s.newTempID()
	unlock := s.locks.Lock(tempID)
	defer unlock()

	// Order is reserved under the state lock so concurrent creates on the
	// same day never share one.
	s.mu.Lock()
	day := dates.ToDateStringPT(due)
	if in.Order == nil {
		next := models.NextOrder(s.state.TasksForDay(day), day)
		in.Order = &next
	}
	optimistic, err := models.NewTaskFromInput(tempID, userID, in, *in.Order, s.now())
	if err != nil {
		s.mu.Unlock()
		return models.Task{}, err
	}
	s.state = Reduce(s.state, UpsertTask{Task: optimistic})
	s.mu.Unlock()

	if online {
		created, err := retry.Do(ctx, s.policy, func(ctx context.Context) (models.Task, error) {
			t, err := s.remote.Create(ctx, in)
			s.metrics.RecordRemote(err)
			return t, err
		})
		if err == nil {
			s.confirm(tempID, created)
			s.persistTasks(ctx)
			return created, nil
		}
		s.logger.Printf("[offline] create %q failed, queued for sync: %v", in.Title, err)
		s.dispatch(SetError{Message: msgDegraded})
	}

	input := in
	s.dispatch(UpsertTask{Task: optimistic})
	if err := s.enqueue(ctx, models.ActionCreate, tempID, models.ActionPayload{Input: &input}); err != nil {
		return models.Task{}, err
	}
	s.persistTasks(ctx)
	return optimistic, nil
}

// confirm records the server id of a temporary task and swaps it in.
func (s *Store) confirm(tempID string, task models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[tempID] = task.ID
	s.state = Reduce(s.state, ReplaceTaskID{OldID: tempID, Task: task})
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	if err := patch.Validate(); err != nil {
		return models.Task{}, err
	}
	queued := patch
	return s.mutate(ctx, id, mutation{
		kind:    models.ActionUpdate,
		payload: models.ActionPayload{Patch: &queued},
		apply: func(t models.Task) (models.Task, error) {
			return t.ApplyPatch(patch, s.now())
		},
		call: func(ctx context.Context, id string) (models.Task, error) {
			return s.remote.Update(ctx, id, patch)
		},
	})
}

func (s *Store) MoveTask(ctx context.Context, id string, move models.MoveInput) (models.Task, error) {
	queued := move
	return s.mutate(ctx, id, mutation{
		kind:    models.ActionMove,
		payload: models.ActionPayload{Move: &queued},
		apply: func(t models.Task) (models.Task, error) {
			return t.ApplyMove(move)
		},
		call: func(ctx context.Context, id string) (models.Task, error) {
			return s.remote.Move(ctx, id, move)
		},
	})
}

func (s *Store) ReorderTask(ctx context.Context, id string, order int) (models.Task, error) {
	queued := order
	return s.mutate(ctx, id, mutation{
		kind:    models.ActionReorder,
		payload: models.ActionPayload{Order: &queued},
		apply: func(t models.Task) (models.Task, error) {
			return t.ApplyReorder(order), nil
		},
		call: func(ctx context.Context, id string) (models.Task, error) {
			return s.remote.Reorder(ctx, id, order)
		},
	})
}

type mutation struct {
	kind    models.ActionKind
	payload models.ActionPayload
	apply   func(models.Task) (models.Task, error)
	call    func(ctx context.Context, id string) (models.Task, error)
}

// mutate runs one update-like operation under the task's lock. While
// older actions for the task are still queued the change is queued behind
// them and the queue is drained, so the server sees edits in the order
// they were made.
func (s *Store) mutate(ctx context.Context, id string, m mutation) (models.Task, error) {
	if _, _, err := s.session(); err != nil {
		return models.Task{}, err
	}

	id, unlock := s.acquire(id)
	task, drain, err := s.mutateLocked(ctx, id, m)
	unlock()
	if err != nil || !drain {
		return task, err
	}

	s.drain(ctx)
	if latest, ok := s.current().Tasks[s.resolve(id)]; ok {
		return latest, nil
	}
	return task, nil
}

func (s *Store) mutateLocked(ctx context.Context, id string, m mutation) (models.Task, bool, error) {
	st := s.current()
	existing, ok := st.Tasks[id]
	if !ok {
		return models.Task{}, false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	optimistic, err := m.apply(existing)
	if err != nil {
		return models.Task{}, false, err
	}

	// The server has never seen a temporary id; its changes wait behind
	// the queued CREATE.
	behind := hasPendingFor(st.Pending, id)
	if st.Online && !models.IsTempID(id) && !behind {
		updated, err := m.call(ctx, id)
		s.metrics.RecordRemote(err)
		if err == nil {
			s.dispatch(UpsertTask{Task: updated})
			s.persistTasks(ctx)
			return updated, false, nil
		}
		s.logger.Printf("[offline] %s %s failed, queued for sync: %v", m.kind, id, err)
		s.dispatch(SetError{Message: msgDegraded})
	}

	s.dispatch(UpsertTask{Task: optimistic})
	if err := s.enqueue(ctx, m.kind, id, m.payload); err != nil {
		return models.Task{}, false, err
	}
	s.persistTasks(ctx)
	return optimistic, st.Online && behind && !models.IsTempID(id), nil
}

// DeleteTask removes a task locally and on the server. Deleting a task the
// server has not confirmed yet just cancels its queued actions.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, _, err := s.session()
	if err != nil {
		return err
	}

	id, unlock := s.acquire(id)
	drain, err := s.deleteLocked(ctx, id)
	unlock()
	if err == nil && drain {
		s.drain(ctx)
	}
	return err
}

func (s *Store) deleteLocked(ctx context.Context, id string) (bool, error) {
	if models.IsTempID(id) {
		s.dispatch(RemoveTask{ID: id}, DiscardPending{TaskID: id})
		s.persistTasks(ctx)
		s.persistPending(ctx)
		return false, nil
	}

	st := s.current()
	behind := hasPendingFor(st.Pending, id)
	if st.Online && !behind {
		err := s.remote.Delete(ctx, id)
		s.metrics.RecordRemote(err)
		if err == nil || client.IsNotFound(err) {
			s.dispatch(RemoveTask{ID: id})
			s.persistTasks(ctx)
			return false, nil
		}
		s.logger.Printf("[offline] DELETE %s failed, queued for sync: %v", id, err)
		s.dispatch(SetError{Message: msgDegraded})
	}

	s.dispatch(RemoveTask{ID: id})
	if err := s.enqueue(ctx, models.ActionDelete, id, models.ActionPayload{}); err != nil {
		return false, err
	}
	s.persistTasks(ctx)
	return st.Online && behind, nil
}

// drain replays the queue after a change was queued behind older actions
// while online. Failures stay queued.
func (s *Store) drain(ctx context.Context) {
	if _, err := s.SyncPendingActions(ctx); err != nil {
		s.logger.Printf("[offline] sync after queued change failed: %v", err)
	}
}

// FetchTasks reloads the whole collection from the server, falling back
// to the persisted snapshot when the server cannot be reached.
func (s *Store) FetchTasks(ctx context.Context) ([]models.Task, error) {
	userID, online, err := s.session()
	if err != nil {
		return nil, err
	}

	if !online {
		cached, ok := s.persist.LoadTasks(ctx, userID)
		if ok {
			s.metrics.RecordCacheFallback()
		}
		s.dispatch(SetTasks{Tasks: cached}, SetError{Message: msgOffline})
		return s.Tasks(), nil
	}

	s.dispatch(SetLoading{Loading: true})
	defer s.dispatch(SetLoading{Loading: false})

	tasks, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]models.Task, error) {
		tasks, err := s.remote.List(ctx, client.ListFilter{})
		s.metrics.RecordRemote(err)
		return tasks, err
	})
	if err == nil {
		s.dispatch(SetTasks{Tasks: tasks}, SetError{})
		s.persistTasks(ctx)
		return s.Tasks(), nil
	}

	s.logger.Printf("[offline] failed to fetch tasks: %v", err)
	cached, ok := s.persist.LoadTasks(ctx, userID)
	if !ok {
		s.dispatch(SetError{Message: msgFetchError})
		return nil, fmt.Errorf("failed to fetch tasks: %w", errors.Join(err, ErrNoCachedData))
	}
	s.metrics.RecordCacheFallback()
	s.dispatch(SetTasks{Tasks: cached}, SetError{Message: msgCachedData})
	return s.Tasks(), nil
}

// FetchTasksByDay returns the tasks due on day in display order. Any
// remote failure falls back to the persisted snapshot.
func (s *Store) FetchTasksByDay(ctx context.Context, day string) ([]models.Task, error) {
	userID, online, err := s.session()
	if err != nil {
		return nil, err
	}
	midnight, err := dates.MidnightPT(day)
	if err != nil {
		return nil, err
	}

	if online {
		tasks, err := s.remote.GetByDay(ctx, day)
		s.metrics.RecordRemote(err)
		if err == nil {
			next := s.dispatch(MergeTasks{Tasks: tasks})
			s.persistTasks(ctx)

			// Queued local edits win; one that moved a task off this day
			// takes it out of the result.
			_, edited := queuedKinds(next.Pending)
			out := make([]models.Task, 0, len(tasks))
			for _, t := range next.overlayQueued(tasks) {
				if edited[t.ID] && !dates.SameDayPT(t.DueDate, midnight) {
					continue
				}
				out = append(out, t)
			}
			models.SortByOrder(out)
			return out, nil
		}
		s.logger.Printf("[offline] failed to fetch tasks for %s, using cache: %v", day, err)
		s.metrics.RecordCacheFallback()
	}

	return s.cachedDay(ctx, userID, midnight), nil
}

func (s *Store) cachedDay(ctx context.Context, userID string, midnight time.Time) []models.Task {
	cached, _ := s.persist.LoadTasks(ctx, userID)
	out := make([]models.Task, 0, len(cached))
	for _, t := range cached {
		if dates.SameDayPT(t.DueDate, midnight) {
			out = append(out, t)
		}
	}
	models.SortByOrder(out)
	return out
}
