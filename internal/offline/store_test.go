package offline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"task-manager/tasksync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("Expected error without remote")
	}
	if _, err := New(Options{Remote: newFakeRemote(time.Now)}); err == nil {
		t.Error("Expected error without persistence")
	}
}

func TestOpen_RequiresUser(t *testing.T) {
	f := newFixture(t, false)

	err := f.store.Open(context.Background(), "")
	if !errors.Is(err, ErrNoUser) {
		t.Errorf("Expected ErrNoUser, got %v", err)
	}

	_, err = f.store.CreateTask(context.Background(), models.TaskInput{Title: "x", DueDate: "2024-01-01"})
	if !errors.Is(err, ErrNoUser) {
		t.Errorf("Expected ErrNoUser before open, got %v", err)
	}
}

func TestOpen_HydratesFromPersistence(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{mustTask(t, "a", "cached", "2024-01-01", 0)}))

	f.open(t)

	tasks := f.store.TasksForDay("2024-01-01")
	require.Len(t, tasks, 1)
	assert.Equal(t, "cached", tasks[0].Title)
	assert.Empty(t, f.remote.Calls(), "hydrating must not touch the network")
}

func TestClose_ClearsSession(t *testing.T) {
	f := newFixture(t, false)
	f.open(t)
	_, err := f.store.CreateTask(context.Background(), models.TaskInput{Title: "x", DueDate: "2024-01-01"})
	require.NoError(t, err)

	f.store.Close()

	assert.Empty(t, f.store.Tasks())
	assert.Empty(t, f.store.Pending())
	assert.Equal(t, "", f.store.UserID())

	// the mirror survives for the next session
	f.open(t)
	assert.Len(t, f.store.Tasks(), 1)
	assert.Len(t, f.store.Pending(), 1)
}

func TestCreateTask_Offline(t *testing.T) {
	f := newFixture(t, false)
	f.open(t)
	ctx := context.Background()

	task, err := f.store.CreateTask(ctx, models.TaskInput{Title: "Buy milk", DueDate: "2024-01-01"})
	require.NoError(t, err)

	if !task.IsTemporary() {
		t.Errorf("Expected temporary id, got %s", task.ID)
	}
	if task.Status != models.StatusIncomplete {
		t.Errorf("Expected status incomplete, got %s", task.Status)
	}

	pending := f.store.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.ActionCreate, pending[0].Kind)
	assert.Equal(t, task.ID, pending[0].TaskID)

	snapshot, ok := f.local.LoadTasks(ctx, "u1")
	require.True(t, ok)
	require.Len(t, snapshot, 1)
	assert.Equal(t, task.ID, snapshot[0].ID)

	queued, ok := f.local.LoadPending(ctx, "u1")
	require.True(t, ok)
	assert.Len(t, queued, 1)

	assert.Empty(t, f.remote.Calls())
}

func TestCreateTask_AssignsNextOrderInDay(t *testing.T) {
	f := newFixture(t, false)
	f.open(t)
	ctx := context.Background()

	first, err := f.store.CreateTask(ctx, models.TaskInput{Title: "one", DueDate: "2024-01-01"})
	require.NoError(t, err)
	second, err := f.store.CreateTask(ctx, models.TaskInput{Title: "two", DueDate: "2024-01-01"})
	require.NoError(t, err)
	other, err := f.store.CreateTask(ctx, models.TaskInput{Title: "three", DueDate: "2024-01-02"})
	require.NoError(t, err)

	assert.Equal(t, 0, first.Order)
	assert.Equal(t, 1, second.Order)
	assert.Equal(t, 0, other.Order)
}

func TestCreateTask_OnlineSuccess(t *testing.T) {
	f := newFixture(t, true)
	f.open(t)

	task, err := f.store.CreateTask(context.Background(), models.TaskInput{Title: "Buy milk", DueDate: "2024-01-01"})
	require.NoError(t, err)

	assert.Equal(t, "srv-1", task.ID)
	assert.Empty(t, f.store.Pending())
	tasks := f.store.TasksForDay("2024-01-01")
	require.Len(t, tasks, 1)
	assert.Equal(t, "srv-1", tasks[0].ID)
}

func TestCreateTask_OnlineRetriesThenQueues(t *testing.T) {
	f := newFixture(t, true)
	f.open(t)
	f.remote.failWith(models.ActionCreate, errUnavailable)

	task, err := f.store.CreateTask(context.Background(), models.TaskInput{Title: "Buy milk", DueDate: "2024-01-01"})
	require.NoError(t, err)

	assert.True(t, task.IsTemporary())
	assert.Len(t, f.remote.Calls(), 3, "create is retried up to the attempt ceiling")
	require.Len(t, f.store.Pending(), 1)
	assert.Equal(t, models.ActionCreate, f.store.Pending()[0].Kind)
	assert.Equal(t, msgDegraded, f.store.LastError())
}

func TestUpdateTask_NotFound(t *testing.T) {
	f := newFixture(t, true)
	f.open(t)

	title := "x"
	_, err := f.store.UpdateTask(context.Background(), "missing", models.TaskPatch{Title: &title})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
	assert.Empty(t, f.remote.Calls())
	assert.Empty(t, f.store.Pending())
}

func TestUpdateTask_OnlineFailureQueues(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	seeded := mustTask(t, "srv-1", "Buy milk", "2024-01-01", 0)
	require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{seeded}))
	f.open(t)
	f.remote.failWith(models.ActionUpdate, errUnavailable)

	done := models.StatusComplete
	task, err := f.store.UpdateTask(ctx, "srv-1", models.TaskPatch{Status: &done})
	require.NoError(t, err)

	assert.Equal(t, models.StatusComplete, task.Status)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.CompletedAt.Equal(f.now()))
	assert.Equal(t, []string{"UPDATE srv-1"}, f.remote.Calls(), "updates are not retried")
	require.Len(t, f.store.Pending(), 1)
	assert.Equal(t, models.ActionUpdate, f.store.Pending()[0].Kind)
	assert.Equal(t, msgDegraded, f.store.LastError())

	undone := models.StatusIncomplete
	f.remote.failWith(models.ActionUpdate, nil)
	f.remote.seed(seeded)
	task, err = f.store.UpdateTask(ctx, "srv-1", models.TaskPatch{Status: &undone})
	require.NoError(t, err)
	assert.Nil(t, task.CompletedAt)
}

func TestMoveAndReorder_Offline(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{
		mustTask(t, "a", "a", "2024-01-01", 0),
		mustTask(t, "b", "b", "2024-01-01", 1),
	}))
	f.open(t)

	moved, err := f.store.MoveTask(ctx, "a", models.MoveInput{DueDate: "2024-01-03"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", moved.Day())

	_, err = f.store.ReorderTask(ctx, "b", 9)
	require.NoError(t, err)

	assert.Len(t, f.store.TasksForDay("2024-01-01"), 1)
	assert.Len(t, f.store.TasksForDay("2024-01-03"), 1)
	assert.Equal(t, 9, f.store.TasksForDay("2024-01-01")[0].Order)

	pending := f.store.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, models.ActionMove, pending[0].Kind)
	assert.Equal(t, models.ActionReorder, pending[1].Kind)
	assert.Equal(t, 9, *pending[1].Payload.Order)
}

func TestUpdateTask_TemporaryIDIsQueuedWhileOnline(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.open(t)

	task, err := f.store.CreateTask(ctx, models.TaskInput{Title: "draft", DueDate: "2024-01-01"})
	require.NoError(t, err)

	f.store.mu.Lock()
	f.store.state.Online = true
	f.store.mu.Unlock()

	title := "final"
	_, err = f.store.UpdateTask(ctx, task.ID, models.TaskPatch{Title: &title})
	require.NoError(t, err)

	assert.Empty(t, f.remote.Calls(), "the server does not know temporary ids")
	assert.Len(t, f.store.Pending(), 2)
}

func TestUpdateTask_OnlineQueuesBehindOlderActions(t *testing.T) {
	setup := func(t *testing.T) *fixture {
		f := newFixture(t, false)
		ctx := context.Background()
		seeded := mustTask(t, "srv-9", "original", "2024-01-01", 0)
		f.remote.seed(seeded)
		require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{seeded}))
		f.open(t)

		first := "A"
		_, err := f.store.UpdateTask(ctx, "srv-9", models.TaskPatch{Title: &first})
		require.NoError(t, err)
		f.store.dispatch(SetOnline{Online: true})
		return f
	}

	t.Run("drains in order", func(t *testing.T) {
		f := setup(t)
		second := "B"

		task, err := f.store.UpdateTask(context.Background(), "srv-9", models.TaskPatch{Title: &second})
		require.NoError(t, err)

		assert.Equal(t, "B", task.Title)
		assert.Equal(t, []string{"UPDATE srv-9", "UPDATE srv-9", "LIST "}, f.remote.Calls())
		assert.Equal(t, "B", f.remote.title("srv-9"))
		assert.Empty(t, f.store.Pending())
	})

	t.Run("older failure keeps both queued", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		f.remote.failTimes(models.ActionUpdate, errUnavailable, 1)
		second := "B"

		task, err := f.store.UpdateTask(ctx, "srv-9", models.TaskPatch{Title: &second})
		require.NoError(t, err)

		assert.Equal(t, "B", task.Title)
		assert.Equal(t, []string{"UPDATE srv-9", "LIST "}, f.remote.Calls(), "the new edit is not sent ahead of the old one")
		assert.Equal(t, "original", f.remote.title("srv-9"))
		require.Len(t, f.store.Pending(), 2)

		f.remote.reset()
		_, err = f.store.SyncPendingActions(ctx)
		require.NoError(t, err)
		assert.Equal(t, "B", f.remote.title("srv-9"))
		assert.Empty(t, f.store.Pending())
	})
}

func TestDeleteTask(t *testing.T) {
	t.Run("online", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		seeded := mustTask(t, "srv-1", "x", "2024-01-01", 0)
		f.remote.seed(seeded)
		require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{seeded}))
		f.open(t)

		require.NoError(t, f.store.DeleteTask(ctx, "srv-1"))
		assert.Empty(t, f.store.Tasks())
		assert.Empty(t, f.store.Pending())
		assert.Equal(t, []string{"DELETE srv-1"}, f.remote.Calls())
	})

	t.Run("online failure", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{mustTask(t, "srv-1", "x", "2024-01-01", 0)}))
		f.open(t)
		f.remote.failWith(models.ActionDelete, errUnavailable)

		require.NoError(t, f.store.DeleteTask(ctx, "srv-1"))
		assert.Empty(t, f.store.Tasks())
		require.Len(t, f.store.Pending(), 1)
		assert.Equal(t, models.ActionDelete, f.store.Pending()[0].Kind)
	})

	t.Run("online queues behind older edits", func(t *testing.T) {
		f := newFixture(t, false)
		ctx := context.Background()
		seeded := mustTask(t, "srv-1", "x", "2024-01-01", 0)
		f.remote.seed(seeded)
		require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{seeded}))
		f.open(t)
		title := "y"
		_, err := f.store.UpdateTask(ctx, "srv-1", models.TaskPatch{Title: &title})
		require.NoError(t, err)
		f.store.dispatch(SetOnline{Online: true})

		require.NoError(t, f.store.DeleteTask(ctx, "srv-1"))

		assert.Equal(t, []string{"UPDATE srv-1", "DELETE srv-1", "LIST "}, f.remote.Calls())
		assert.Empty(t, f.store.Tasks())
		assert.Empty(t, f.store.Pending())
	})

	t.Run("temporary task cancels its queue", func(t *testing.T) {
		f := newFixture(t, false)
		ctx := context.Background()
		f.open(t)
		task, err := f.store.CreateTask(ctx, models.TaskInput{Title: "x", DueDate: "2024-01-01"})
		require.NoError(t, err)
		title := "y"
		_, err = f.store.UpdateTask(ctx, task.ID, models.TaskPatch{Title: &title})
		require.NoError(t, err)

		require.NoError(t, f.store.DeleteTask(ctx, task.ID))

		assert.Empty(t, f.store.Tasks())
		assert.Empty(t, f.store.Pending())
		queued, ok := f.local.LoadPending(ctx, "u1")
		require.True(t, ok)
		assert.Empty(t, queued)
	})
}

func TestConcurrentUpdatesToOneTaskBothLand(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	seeded := mustTask(t, "srv-1", "old", "2024-01-01", 0)
	f.remote.seed(seeded)
	require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{seeded}))
	f.open(t)
	f.remote.delay = 20 * time.Millisecond

	title := "new"
	priority := true
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.store.UpdateTask(ctx, "srv-1", models.TaskPatch{Title: &title})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.store.UpdateTask(ctx, "srv-1", models.TaskPatch{Priority: &priority})
		assert.NoError(t, err)
	}()
	wg.Wait()

	got := f.store.TasksForDay("2024-01-01")
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Title)
	assert.True(t, got[0].Priority)
	assert.Equal(t, 0, f.store.locks.size(), "idle locks are released")
}

func TestConcurrentOfflineEditsBothLand(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{mustTask(t, "a", "old", "2024-01-01", 0)}))
	f.open(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				title := "edited"
				f.store.UpdateTask(ctx, "a", models.TaskPatch{Title: &title})
			} else {
				f.store.ReorderTask(ctx, "a", 5)
			}
		}(i)
	}
	wg.Wait()

	got := f.store.TasksForDay("2024-01-01")
	require.Len(t, got, 1)
	assert.Equal(t, "edited", got[0].Title)
	assert.Equal(t, 5, got[0].Order)
	assert.Len(t, f.store.Pending(), 20)
}

func TestFetchTasks(t *testing.T) {
	t.Run("online replaces collection", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{mustTask(t, "stale", "stale", "2024-01-01", 0)}))
		f.remote.seed(mustTask(t, "srv-1", "fresh", "2024-01-01", 0))
		f.open(t)

		tasks, err := f.store.FetchTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "srv-1", tasks[0].ID)
		assert.False(t, f.store.Loading())

		snapshot, _ := f.local.LoadTasks(ctx, "u1")
		require.Len(t, snapshot, 1)
		assert.Equal(t, "srv-1", snapshot[0].ID)
	})

	t.Run("exhausted retries use cache", func(t *testing.T) {
		f := newFixture(t, true)
		ctx := context.Background()
		require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{mustTask(t, "a", "cached", "2024-01-01", 0)}))
		f.open(t)
		f.remote.failWith(kindList, errUnavailable)

		tasks, err := f.store.FetchTasks(ctx)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
		assert.Len(t, f.remote.Calls(), 3)
		assert.Equal(t, msgCachedData, f.store.LastError())
		assert.Equal(t, int64(1), f.store.Metrics().CacheFallbacks)
	})

	t.Run("exhausted retries without cache fail", func(t *testing.T) {
		f := newFixture(t, true)
		f.open(t)
		f.remote.failWith(kindList, errUnavailable)

		_, err := f.store.FetchTasks(context.Background())
		if !errors.Is(err, ErrNoCachedData) {
			t.Errorf("Expected ErrNoCachedData, got %v", err)
		}
		if !errors.Is(err, errUnavailable) {
			t.Errorf("Expected the transport error to be kept, got %v", err)
		}
		assert.Equal(t, msgFetchError, f.store.LastError())
	})

	t.Run("offline uses cache with warning", func(t *testing.T) {
		f := newFixture(t, false)
		ctx := context.Background()
		require.NoError(t, f.local.SaveTasks(ctx, "u1", []models.Task{mustTask(t, "a", "cached", "2024-01-01", 0)}))
		f.open(t)

		tasks, err := f.store.FetchTasks(ctx)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
		assert.Equal(t, msgOffline, f.store.LastError())
		assert.Empty(t, f.remote.Calls())
	})

	t.Run("offline without cache is empty", func(t *testing.T) {
		f := newFixture(t, false)
		f.open(t)

		tasks, err := f.store.FetchTasks(context.Background())
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})
}

func TestFetchTasksByDay(t *testing.T) {
	cached := []models.Task{
		mustTask(t, "late", "late", "2024-01-01", 2),
		mustTask(t, "early", "early", "2024-01-01", 1),
		mustTask(t, "other", "other", "2024-01-02", 0),
	}

	t.Run("online", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(cached...)
		f.open(t)

		tasks, err := f.store.FetchTasksByDay(context.Background(), "2024-01-01")
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "early", tasks[0].ID)
		assert.Equal(t, []string{"DAY 2024-01-01"}, f.remote.Calls())
		assert.Len(t, f.store.TasksForDay("2024-01-01"), 2)
	})

	t.Run("online failure falls back to cache", func(t *testing.T) {
		f := newFixture(t, true)
		require.NoError(t, f.local.SaveTasks(context.Background(), "u1", cached))
		f.open(t)
		f.remote.failWith(kindDay, errUnavailable)

		tasks, err := f.store.FetchTasksByDay(context.Background(), "2024-01-01")
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "early", tasks[0].ID)
		assert.Equal(t, "late", tasks[1].ID)
	})

	t.Run("offline filters cache", func(t *testing.T) {
		f := newFixture(t, false)
		require.NoError(t, f.local.SaveTasks(context.Background(), "u1", cached))
		f.open(t)

		tasks, err := f.store.FetchTasksByDay(context.Background(), "2024-01-02")
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "other", tasks[0].ID)
	})

	t.Run("offline buckets by Pacific day", func(t *testing.T) {
		lateNight := mustTask(t, "night", "night", "2024-01-01", 3)
		// 23:30 PST on Jan 1 is already Jan 2 in UTC
		lateNight.DueDate = time.Date(2024, 1, 2, 7, 30, 0, 0, time.UTC)

		f := newFixture(t, false)
		require.NoError(t, f.local.SaveTasks(context.Background(), "u1", append(cached, lateNight)))
		f.open(t)

		tasks, err := f.store.FetchTasksByDay(context.Background(), "2024-01-01")
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, "night", tasks[2].ID)

		tasks, err = f.store.FetchTasksByDay(context.Background(), "2024-01-02")
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "other", tasks[0].ID)
	})

	t.Run("invalid day", func(t *testing.T) {
		f := newFixture(t, false)
		f.open(t)

		_, err := f.store.FetchTasksByDay(context.Background(), "01/02/2024")
		assert.Error(t, err)
	})
}

func TestCheckForRolloverTasks(t *testing.T) {
	// the fixture clock reads 2024-01-01, so yesterday is 2023-12-31
	done := mustTask(t, "done", "done", "2023-12-31", 1)
	done.SetStatus(models.StatusComplete, done.DueDate)
	open := mustTask(t, "open", "open", "2023-12-31", 0)

	t.Run("online", func(t *testing.T) {
		f := newFixture(t, true)
		f.remote.seed(open, done)
		f.open(t)

		moved, err := f.store.CheckForRolloverTasks(context.Background())
		require.NoError(t, err)
		require.Len(t, moved, 1)
		assert.Equal(t, "open", moved[0].ID)
		assert.Equal(t, "2024-01-01", moved[0].Day())
		assert.True(t, moved[0].Rollover)

		assert.Equal(t, []string{"DAY 2023-12-31", "MOVE open"}, f.remote.Calls())
		assert.Len(t, f.store.TasksForDay("2023-12-31"), 1)
		assert.Empty(t, f.store.Pending())
	})

	t.Run("offline moves the same task", func(t *testing.T) {
		f := newFixture(t, false)
		require.NoError(t, f.local.SaveTasks(context.Background(), "u1", []models.Task{open, done}))
		f.open(t)

		moved, err := f.store.CheckForRolloverTasks(context.Background())
		require.NoError(t, err)
		require.Len(t, moved, 1)
		assert.Equal(t, "open", moved[0].ID, "no duplicate task is created")
		assert.Len(t, f.store.Tasks(), 2)

		pending := f.store.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, models.ActionMove, pending[0].Kind)
		assert.True(t, pending[0].Payload.Move.Rollover)
	})
}

func TestStats(t *testing.T) {
	f := newFixture(t, false)
	f.open(t)
	_, err := f.store.CreateTask(context.Background(), models.TaskInput{Title: "x", DueDate: "2024-01-01"})
	require.NoError(t, err)

	stats := f.store.Stats()
	assert.Equal(t, "u1", stats["user_id"])
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, int64(1), stats["enqueued"])
	assert.False(t, stats["online"].(bool))
}

func TestSnapshotIsDetached(t *testing.T) {
	f := newFixture(t, false)
	f.open(t)
	_, err := f.store.CreateTask(context.Background(), models.TaskInput{Title: "x", DueDate: "2024-01-01"})
	require.NoError(t, err)

	snap := f.store.Snapshot()
	for id := range snap.Tasks {
		delete(snap.Tasks, id)
	}
	snap.Buckets["2024-01-01"][0] = "tampered"

	assert.Len(t, f.store.Tasks(), 1)
	assert.False(t, strings.HasPrefix(f.store.TasksForDay("2024-01-01")[0].ID, "tampered"))
}
