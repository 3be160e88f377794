package offline

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"task-manager/tasksync/internal/client"
	"task-manager/tasksync/internal/dates"
	"task-manager/tasksync/internal/models"
	"task-manager/tasksync/internal/retry"
	"task-manager/tasksync/internal/storage"
)

var errUnavailable = fmt.Errorf("connection refused")

// fakeRemote is an in-memory Remote that records every call as
// "<KIND> <id>".
type fakeRemote struct {
	mu    sync.Mutex
	tasks map[string]models.Task
	calls []string
	fail  map[models.ActionKind]error
	// failFor limits a failWith to that many calls; absent means forever.
	failFor map[models.ActionKind]int
	listOK  bool
	delay   time.Duration
	nextID  int
	now     func() time.Time
}

const kindList models.ActionKind = "LIST"
const kindDay models.ActionKind = "DAY"

func newFakeRemote(now func() time.Time) *fakeRemote {
	return &fakeRemote{
		tasks:   make(map[string]models.Task),
		fail:    make(map[models.ActionKind]error),
		failFor: make(map[models.ActionKind]int),
		now:     now,
	}
}

func (f *fakeRemote) seed(tasks ...models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
}

func (f *fakeRemote) failWith(kind models.ActionKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, kind)
		return
	}
	f.fail[kind] = err
}

// failTimes makes the next n calls of kind fail with err.
func (f *fakeRemote) failTimes(kind models.ActionKind, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[kind] = err
	f.failFor[kind] = n
}

func (f *fakeRemote) title(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id].Title
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeRemote) enter(kind models.ActionKind, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s %s", kind, id))
	err := f.fail[kind]
	if n, limited := f.failFor[kind]; limited && err != nil {
		if n <= 1 {
			delete(f.fail, kind)
			delete(f.failFor, kind)
		} else {
			f.failFor[kind] = n - 1
		}
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeRemote) List(ctx context.Context, filter client.ListFilter) ([]models.Task, error) {
	if err := f.enter(kindList, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRemote) GetByDay(ctx context.Context, day string) ([]models.Task, error) {
	if err := f.enter(kindDay, day); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if t.Day() == day {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRemote) Create(ctx context.Context, input models.TaskInput) (models.Task, error) {
	if err := f.enter(models.ActionCreate, input.Title); err != nil {
		return models.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	task, err := models.NewTaskFromInput(fmt.Sprintf("srv-%d", f.nextID), "u1", input, 0, f.now())
	if err != nil {
		return models.Task{}, err
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeRemote) Update(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	return f.mutate(models.ActionUpdate, id, func(t models.Task) (models.Task, error) {
		return t.ApplyPatch(patch, f.now())
	})
}

func (f *fakeRemote) Move(ctx context.Context, id string, move models.MoveInput) (models.Task, error) {
	return f.mutate(models.ActionMove, id, func(t models.Task) (models.Task, error) {
		return t.ApplyMove(move)
	})
}

func (f *fakeRemote) Reorder(ctx context.Context, id string, order int) (models.Task, error) {
	return f.mutate(models.ActionReorder, id, func(t models.Task) (models.Task, error) {
		return t.ApplyReorder(order), nil
	})
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	if err := f.enter(models.ActionDelete, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return &client.APIError{Method: "DELETE", Path: "/api/tasks/" + id, StatusCode: 404}
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeRemote) mutate(kind models.ActionKind, id string, fn func(models.Task) (models.Task, error)) (models.Task, error) {
	if err := f.enter(kind, id); err != nil {
		return models.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return models.Task{}, &client.APIError{Method: "PUT", Path: "/api/tasks/" + id, StatusCode: 404}
	}
	updated, err := fn(t)
	if err != nil {
		return models.Task{}, err
	}
	f.tasks[id] = updated
	return updated, nil
}

// fixedClock starts at noon PT on 2024-01-01.
func fixedClock() func() time.Time {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, dates.Location())
	return func() time.Time { return now }
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", models.TempIDPrefix, n)
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func instantRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
		Logger:      quietLogger(),
	}
}

type fixture struct {
	store  *Store
	remote *fakeRemote
	local  *storage.Local
	now    func() time.Time
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	now := fixedClock()
	remote := newFakeRemote(now)
	local := storage.NewLocal(storage.NewMemoryKV(), quietLogger())

	store, err := New(Options{
		Remote:      remote,
		Persistence: local,
		Clock:       now,
		NewTempID:   sequentialIDs(),
		Retry:       instantRetry(),
		Logger:      quietLogger(),
		Online:      online,
	})
	if err != nil {
		t.Fatalf("Expected no error creating store, got %v", err)
	}
	return &fixture{store: store, remote: remote, local: local, now: now}
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	if err := f.store.Open(context.Background(), "u1"); err != nil {
		t.Fatalf("Expected no error opening store, got %v", err)
	}
}

func mustTask(t *testing.T, id, title, day string, order int) models.Task {
	t.Helper()
	due, err := dates.MidnightPT(day)
	if err != nil {
		t.Fatalf("Expected valid day, got %v", err)
	}
	return models.Task{
		ID:        id,
		Title:     title,
		Status:    models.StatusIncomplete,
		DueDate:   due,
		Category:  models.CategoryOther,
		CreatedAt: due,
		Order:     order,
		UserID:    "u1",
	}
}
