package models

import (
	"time"

	"task-manager/tasksync/internal/dates"
)

// NewTaskFromInput builds the task a create request describes. The order
// falls back to defaultOrder when the input has none.
func NewTaskFromInput(id, userID string, in TaskInput, defaultOrder int, now time.Time) (Task, error) {
	if err := in.Validate(); err != nil {
		return Task{}, err
	}
	due, err := dates.ParseDueDate(in.DueDate)
	if err != nil {
		return Task{}, err
	}

	category := in.Category
	if category == "" {
		category = CategoryOther
	}
	order := defaultOrder
	if in.Order != nil {
		order = *in.Order
	}

	return Task{
		ID:        id,
		Title:     in.Title,
		Status:    StatusIncomplete,
		DueDate:   due,
		Category:  category,
		Priority:  in.Priority,
		CreatedAt: now,
		Rollover:  in.Rollover,
		Order:     order,
		UserID:    userID,
	}, nil
}

// ApplyPatch returns t with the non-nil fields of p applied.
func (t Task) ApplyPatch(p TaskPatch, now time.Time) (Task, error) {
	if err := p.Validate(); err != nil {
		return Task{}, err
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.DueDate != nil {
		due, err := dates.ParseDueDate(*p.DueDate)
		if err != nil {
			return Task{}, err
		}
		t.DueDate = due
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Rollover != nil {
		t.Rollover = *p.Rollover
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	if p.Status != nil {
		t.SetStatus(*p.Status, now)
	}
	return t, nil
}

func (t Task) ApplyMove(m MoveInput) (Task, error) {
	due, err := dates.ParseDueDate(m.DueDate)
	if err != nil {
		return Task{}, err
	}
	t.DueDate = due
	t.Rollover = m.Rollover
	return t, nil
}

func (t Task) ApplyReorder(order int) Task {
	t.Order = order
	return t
}

// Day is the reference-zone day key the task is due on.
func (t Task) Day() string {
	return dates.ToDateStringPT(t.DueDate)
}

// NextOrder returns one past the highest order among tasks due on day.
func NextOrder(tasks []Task, day string) int {
	next := 0
	for _, t := range tasks {
		if t.Day() == day && t.Order >= next {
			next = t.Order + 1
		}
	}
	return next
}
