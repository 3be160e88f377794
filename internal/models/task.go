package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TempIDPrefix marks ids synthesized locally until the server assigns one.
const TempIDPrefix = "temp-"

type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
)

func (s Status) Valid() bool {
	return s == StatusIncomplete || s == StatusComplete
}

type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryHealth   Category = "health"
	CategoryShopping Category = "shopping"
	CategoryOther    Category = "other"
)

var Categories = []Category{CategoryWork, CategoryPersonal, CategoryHealth, CategoryShopping, CategoryOther}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategoryOther, nil
	}
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	DueDate     time.Time  `json:"dueDate"`
	Category    Category   `json:"category"`
	Priority    bool       `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Rollover    bool       `json:"rollover"`
	Order       int        `json:"order"`
	UserID      string     `json:"userId"`
}

// IsTemporary reports whether the task has not been confirmed by the server.
func (t Task) IsTemporary() bool {
	return IsTempID(t.ID)
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// SetStatus changes the status and keeps CompletedAt in step with it.
func (t *Task) SetStatus(status Status, now time.Time) {
	if status == StatusComplete {
		if t.Status != StatusComplete || t.CompletedAt == nil {
			completed := now
			t.CompletedAt = &completed
		}
	} else {
		t.CompletedAt = nil
	}
	t.Status = status
}

// TaskInput is the body of a create request. DueDate is either a bare
// YYYY-MM-DD date or a full RFC3339 instant.
type TaskInput struct {
	Title    string   `json:"title"`
	DueDate  string   `json:"dueDate"`
	Category Category `json:"category,omitempty"`
	Priority bool     `json:"priority"`
	Rollover bool     `json:"rollover"`
	Order    *int     `json:"order,omitempty"`
}

func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if in.DueDate == "" {
		return fmt.Errorf("due date is required")
	}
	if in.Category != "" && !in.Category.Valid() {
		return fmt.Errorf("unknown category %q", in.Category)
	}
	return nil
}

// TaskPatch is a partial update; nil fields are left unchanged and are not
// sent to the server.
type TaskPatch struct {
	Title    *string   `json:"title,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	DueDate  *string   `json:"dueDate,omitempty"`
	Category *Category `json:"category,omitempty"`
	Priority *bool     `json:"priority,omitempty"`
	Rollover *bool     `json:"rollover,omitempty"`
	Order    *int      `json:"order,omitempty"`
}

func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("unknown status %q", *p.Status)
	}
	if p.Category != nil && !p.Category.Valid() {
		return fmt.Errorf("unknown category %q", *p.Category)
	}
	return nil
}

type MoveInput struct {
	DueDate  string `json:"dueDate"`
	Rollover bool   `json:"rollover"`
}

type ReorderInput struct {
	Order int `json:"order"`
}

// SortByOrder orders tasks by display order; ties keep insertion order.
func SortByOrder(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
}
