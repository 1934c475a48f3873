// Package messaging delivers assignment, follow-up and escalation notices.
package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/store"
)

const (
	KindAssignment = "assignment"
	KindFollowUp   = "followup"
	KindEscalation = "escalation"
)

type Notice struct {
	Kind       string `json:"kind"`
	DeliveryID string `json:"delivery_id"`
	TaskID     string `json:"task_id"`
	TaskName   string `json:"task_name"`
	Assignee   string `json:"assignee,omitempty"`
	DueDate    string `json:"due_date,omitempty"`
	ProjectTag string `json:"project_tag,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Status     string `json:"status,omitempty"`
	SentAt     string `json:"sent_at"`
}

// Transport moves a rendered notice to its destination.
type Transport interface {
	Deliver(ctx context.Context, n Notice) error
}

// Notifier builds notices from task records and hands them to a Transport.
type Notifier struct {
	Store     store.Store
	Transport Transport
	Now       func() time.Time
}

func (n Notifier) SendAssignmentNotice(ctx context.Context, taskID string) error {
	return n.send(ctx, KindAssignment, taskID)
}

func (n Notifier) SendFollowUp(ctx context.Context, taskID string) error {
	return n.send(ctx, KindFollowUp, taskID)
}

func (n Notifier) SendEscalation(ctx context.Context, taskID string) error {
	return n.send(ctx, KindEscalation, taskID)
}

func (n Notifier) send(ctx context.Context, kind, taskID string) error {
	rec, err := n.Store.Get(ctx, store.Tasks, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	task := domain.TaskFromRecord(rec)
	if kind != KindEscalation && task.Assignee == "" {
		return fmt.Errorf("task %s has no assignee", taskID)
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	notice := Notice{
		Kind:       kind,
		DeliveryID: uuid.NewString(),
		TaskID:     task.ID,
		TaskName:   task.Name,
		Assignee:   task.Assignee,
		DueDate:    task.DueDate,
		ProjectTag: task.ProjectTag,
		Priority:   task.Priority,
		Status:     string(task.Status),
		SentAt:     now().UTC().Format(time.RFC3339),
	}
	if n.Transport == nil {
		return fmt.Errorf("no transport configured")
	}
	return n.Transport.Deliver(ctx, notice)
}

// LogOnly writes notices to the operational log instead of sending them.
type LogOnly struct {
	Logger *log.Logger
}

func (l LogOnly) Deliver(_ context.Context, n Notice) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notice %s: %s for task %s (%s) to %s", n.DeliveryID, n.Kind, n.TaskID, n.TaskName, n.Assignee)
	return nil
}
