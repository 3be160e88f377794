package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
)

type ActionKind string

const (
	ActionCreate  ActionKind = "CREATE"
	ActionUpdate  ActionKind = "UPDATE"
	ActionDelete  ActionKind = "DELETE"
	ActionMove    ActionKind = "MOVE"
	ActionReorder ActionKind = "REORDER"
)

// ActionPayload holds the kind-specific body of a pending action. Exactly
// one field is set, matching the action kind; DELETE carries none.
type ActionPayload struct {
	Input *TaskInput `json:"input,omitempty"`
	Patch *TaskPatch `json:"patch,omitempty"`
	Move  *MoveInput `json:"move,omitempty"`
	Order *int       `json:"order,omitempty"`
}

// PendingAction is a mutation not yet confirmed by the server. Values are
// replaced, never edited, once enqueued.
type PendingAction struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"taskId"`
	Kind       ActionKind    `json:"type"`
	Payload    ActionPayload `json:"payload"`
	EnqueuedAt time.Time     `json:"timestamp"`
}

func NewPendingAction(kind ActionKind, taskID string, payload ActionPayload, at time.Time) (PendingAction, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return PendingAction{}, fmt.Errorf("failed to generate action ID: %w", err)
	}
	return PendingAction{
		ID:         id.String(),
		TaskID:     taskID,
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: at,
	}, nil
}

// Validate checks that the payload matches the kind.
func (a PendingAction) Validate() error {
	if a.TaskID == "" {
		return fmt.Errorf("action %s has no task ID", a.ID)
	}
	switch a.Kind {
	case ActionCreate:
		if a.Payload.Input == nil {
			return fmt.Errorf("CREATE action %s has no input", a.ID)
		}
	case ActionUpdate:
		if a.Payload.Patch == nil {
			return fmt.Errorf("UPDATE action %s has no patch", a.ID)
		}
	case ActionMove:
		if a.Payload.Move == nil {
			return fmt.Errorf("MOVE action %s has no move", a.ID)
		}
	case ActionReorder:
		if a.Payload.Order == nil {
			return fmt.Errorf("REORDER action %s has no order", a.ID)
		}
	case ActionDelete:
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// WithTaskID returns a copy of the action retargeted at id.
func (a PendingAction) WithTaskID(id string) PendingAction {
	a.TaskID = id
	return a
}

// SortedByEnqueueTime returns a copy of actions in non-decreasing enqueue
// order. Equal timestamps keep their relative order.
func SortedByEnqueueTime(actions []PendingAction) []PendingAction {
	out := make([]PendingAction, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}
