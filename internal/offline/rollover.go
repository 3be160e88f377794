package offline

import (
	"context"
	"errors"
	"fmt"

	"task-manager/tasksync/internal/dates"
	"task-manager/tasksync/internal/models"
)

// CheckForRolloverTasks moves yesterday's incomplete tasks to today and
// flags them as rolled over. The same move is used online and offline;
// offline moves are queued like any other.
func (s *Store) CheckForRolloverTasks(ctx context.Context) ([]models.Task, error) {
	if _, _, err := s.session(); err != nil {
		return nil, err
	}

	today := dates.TodayPT(s.now())
	yesterday, err := dates.AddDaysPT(today, -1)
	if err != nil {
		return nil, err
	}

	candidates, err := s.FetchTasksByDay(ctx, yesterday)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks for %s: %w", yesterday, err)
	}

	var (
		moved []models.Task
		errs  []error
	)
	for _, t := range candidates {
		if t.Status != models.StatusIncomplete {
			continue
		}
		task, err := s.MoveTask(ctx, t.ID, models.MoveInput{DueDate: today, Rollover: true})
		if err != nil {
			s.logger.Printf("[offline] failed to roll over %s: %v", t.ID, err)
			errs = append(errs, fmt.Errorf("roll over %s: %w", t.ID, err))
			continue
		}
		moved = append(moved, task)
	}
	if len(moved) > 0 {
		s.logger.Printf("[offline] rolled %d tasks over from %s to %s", len(moved), yesterday, today)
	}
	return moved, errors.Join(errs...)
}
