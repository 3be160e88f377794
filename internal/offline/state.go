package offline

import (
	"sort"

	"task-manager/tasksync/internal/models"
)

// State is everything the store knows about the active user's tasks.
// Values are treated as immutable: Reduce returns a new State and never
// writes through the maps or slices of its input.
type State struct {
	UserID    string
	Tasks     map[string]models.Task
	Buckets   map[string][]string // day -> task ids ordered by display order
	Online    bool
	Pending   []models.PendingAction
	Loading   bool
	LastError string
}

func NewState(online bool) State {
	return State{
		Tasks:   map[string]models.Task{},
		Buckets: map[string][]string{},
		Online:  online,
	}
}

// Action is one state transition understood by Reduce.
type Action interface {
	isAction()
}

type (
	// Hydrate loads a user's persisted snapshot and queue.
	Hydrate struct {
		UserID  string
		Tasks   []models.Task
		Pending []models.PendingAction
	}
	// SetTasks replaces the collection with an authoritative list, laid
	// under local work the server has not seen: tasks waiting on a queued
	// CREATE are kept, tasks with a queued DELETE stay removed and tasks
	// with other queued actions keep their local version.
	SetTasks struct{ Tasks []models.Task }
	// MergeTasks upserts server tasks under the same rules as SetTasks
	// without dropping tasks the list does not mention.
	MergeTasks struct{ Tasks []models.Task }
	UpsertTask struct{ Task models.Task }
	RemoveTask struct{ ID string }
	// ReplaceTaskID swaps a temporary task for its server-confirmed version
	// and retargets queued actions that still name the old id.
	ReplaceTaskID struct {
		OldID string
		Task  models.Task
	}
	SetOnline struct{ Online bool }
	Enqueue   struct{ Action models.PendingAction }
	Dequeue   struct{ ID string }
	// DiscardPending drops every queued action that targets TaskID.
	DiscardPending struct{ TaskID string }
	SetPending     struct{ Pending []models.PendingAction }
	SetLoading     struct{ Loading bool }
	SetError       struct{ Message string }
	// Reset clears the session but keeps the connectivity flag.
	Reset struct{}
)

func (Hydrate) isAction()        {}
func (SetTasks) isAction()       {}
func (MergeTasks) isAction()     {}
func (UpsertTask) isAction()     {}
func (RemoveTask) isAction()     {}
func (ReplaceTaskID) isAction()  {}
func (SetOnline) isAction()      {}
func (Enqueue) isAction()        {}
func (Dequeue) isAction()        {}
func (DiscardPending) isAction() {}
func (SetPending) isAction()     {}
func (SetLoading) isAction()     {}
func (SetError) isAction()       {}
func (Reset) isAction()          {}

// Reduce applies a to s.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case Hydrate:
		next := NewState(s.Online)
		next.UserID = a.UserID
		next.Tasks, next.Buckets = index(a.Tasks)
		next.Pending = clonePending(a.Pending)
		return next

	case SetTasks:
		incoming := s.overlayQueued(a.Tasks)
		for _, t := range s.Tasks {
			if t.IsTemporary() && hasPendingCreate(s.Pending, t.ID) {
				incoming = append(incoming, t)
			}
		}
		s.Tasks, s.Buckets = index(incoming)
		return s

	case MergeTasks:
		s.Tasks = cloneTasks(s.Tasks)
		merged := s.overlayQueued(a.Tasks)
		for _, t := range merged {
			s.Tasks[t.ID] = t
		}
		for _, t := range merged {
			s.Buckets = placeInBucket(s.Buckets, s.Tasks, t.ID)
		}
		return s

	case UpsertTask:
		s.Tasks = cloneTasks(s.Tasks)
		s.Tasks[a.Task.ID] = a.Task
		s.Buckets = placeInBucket(s.Buckets, s.Tasks, a.Task.ID)
		return s

	case RemoveTask:
		if _, ok := s.Tasks[a.ID]; !ok {
			return s
		}
		s.Tasks = cloneTasks(s.Tasks)
		delete(s.Tasks, a.ID)
		s.Buckets = placeInBucket(s.Buckets, s.Tasks, a.ID)
		return s

	case ReplaceTaskID:
		s.Tasks = cloneTasks(s.Tasks)
		delete(s.Tasks, a.OldID)
		s.Tasks[a.Task.ID] = a.Task
		s.Buckets = placeInBucket(s.Buckets, s.Tasks, a.OldID)
		s.Buckets = placeInBucket(s.Buckets, s.Tasks, a.Task.ID)
		if a.OldID != a.Task.ID {
			pending := make([]models.PendingAction, len(s.Pending))
			for i, p := range s.Pending {
				if p.TaskID == a.OldID {
					p = p.WithTaskID(a.Task.ID)
				}
				pending[i] = p
			}
			s.Pending = pending
		}
		return s

	case SetOnline:
		s.Online = a.Online
		return s

	case Enqueue:
		pending := make([]models.PendingAction, 0, len(s.Pending)+1)
		pending = append(pending, s.Pending...)
		s.Pending = append(pending, a.Action)
		return s

	case Dequeue:
		s.Pending = filterPending(s.Pending, func(p models.PendingAction) bool { return p.ID != a.ID })
		return s

	case DiscardPending:
		s.Pending = filterPending(s.Pending, func(p models.PendingAction) bool { return p.TaskID != a.TaskID })
		return s

	case SetPending:
		s.Pending = clonePending(a.Pending)
		return s

	case SetLoading:
		s.Loading = a.Loading
		return s

	case SetError:
		s.LastError = a.Message
		return s

	case Reset:
		return NewState(s.Online)
	}
	return s
}

// TasksForDay returns the tasks bucketed under day in display order.
func (s State) TasksForDay(day string) []models.Task {
	ids := s.Buckets[day]
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Tasks[id])
	}
	return out
}

// BucketTasks expands the bucket projection into tasks.
func (s State) BucketTasks() map[string][]models.Task {
	out := make(map[string][]models.Task, len(s.Buckets))
	for day := range s.Buckets {
		out[day] = s.TasksForDay(day)
	}
	return out
}

// TaskList returns every task ordered by day then display order.
func (s State) TaskList() []models.Task {
	days := make([]string, 0, len(s.Buckets))
	for day := range s.Buckets {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]models.Task, 0, len(s.Tasks))
	for _, day := range days {
		out = append(out, s.TasksForDay(day)...)
	}
	return out
}

func (s State) clone() State {
	s.Tasks = cloneTasks(s.Tasks)
	buckets := make(map[string][]string, len(s.Buckets))
	for day, ids := range s.Buckets {
		buckets[day] = append([]string(nil), ids...)
	}
	s.Buckets = buckets
	s.Pending = clonePending(s.Pending)
	return s
}

// index builds the collection and a full bucket projection from tasks.
// Later duplicates of an id win.
func index(tasks []models.Task) (map[string]models.Task, map[string][]string) {
	byID := make(map[string]models.Task, len(tasks))
	var ordered []string
	for _, t := range tasks {
		if _, seen := byID[t.ID]; !seen {
			ordered = append(ordered, t.ID)
		}
		byID[t.ID] = t
	}

	buckets := map[string][]string{}
	for _, id := range ordered {
		day := byID[id].Day()
		buckets[day] = append(buckets[day], id)
	}
	for _, ids := range buckets {
		sortBucket(ids, byID)
	}
	return byID, buckets
}

// placeInBucket removes id from every bucket and, if the task still
// exists, re-inserts it under its current day and sorts that bucket.
func placeInBucket(buckets map[string][]string, tasks map[string]models.Task, id string) map[string][]string {
	next := make(map[string][]string, len(buckets)+1)
	for day, ids := range buckets {
		kept := make([]string, 0, len(ids))
		for _, other := range ids {
			if other != id {
				kept = append(kept, other)
			}
		}
		if len(kept) > 0 {
			next[day] = kept
		}
	}

	t, ok := tasks[id]
	if !ok {
		return next
	}
	day := t.Day()
	next[day] = append(next[day], id)
	sortBucket(next[day], tasks)
	return next
}

func sortBucket(ids []string, tasks map[string]models.Task) {
	sort.SliceStable(ids, func(i, j int) bool {
		return tasks[ids[i]].Order < tasks[ids[j]].Order
	})
}

func hasPendingCreate(pending []models.PendingAction, taskID string) bool {
	for _, p := range pending {
		if p.Kind == models.ActionCreate && p.TaskID == taskID {
			return true
		}
	}
	return false
}

func hasPendingFor(pending []models.PendingAction, taskID string) bool {
	for _, p := range pending {
		if p.TaskID == taskID {
			return true
		}
	}
	return false
}

// overlayQueued drops server tasks with a queued DELETE and swaps in the
// local version of tasks with other queued actions.
func (s State) overlayQueued(tasks []models.Task) []models.Task {
	deleted, edited := queuedKinds(s.Pending)
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if deleted[t.ID] {
			continue
		}
		if local, ok := s.Tasks[t.ID]; ok && edited[t.ID] {
			t = local
		}
		out = append(out, t)
	}
	return out
}

// queuedKinds splits the task ids with queued non-CREATE actions into
// those awaiting a DELETE and those awaiting an edit.
func queuedKinds(pending []models.PendingAction) (deleted, edited map[string]bool) {
	deleted = make(map[string]bool)
	edited = make(map[string]bool)
	for _, p := range pending {
		switch p.Kind {
		case models.ActionCreate:
		case models.ActionDelete:
			deleted[p.TaskID] = true
		default:
			edited[p.TaskID] = true
		}
	}
	return deleted, edited
}

func cloneTasks(tasks map[string]models.Task) map[string]models.Task {
	out := make(map[string]models.Task, len(tasks)+1)
	for id, t := range tasks {
		out[id] = t
	}
	return out
}

func clonePending(pending []models.PendingAction) []models.PendingAction {
	out := make([]models.PendingAction, len(pending))
	copy(out, pending)
	return out
}

func filterPending(pending []models.PendingAction, keep func(models.PendingAction) bool) []models.PendingAction {
	out := make([]models.PendingAction, 0, len(pending))
	for _, p := range pending {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
