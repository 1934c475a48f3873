package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/store"
)

const (
	PendingStatusPending = "pending"
	PendingStatusDone    = "done"
	PendingStatusFailed  = "failed"
)

// PendingAction is a delayed action persisted until its due time.
type PendingAction struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	TaskID     string    `json:"task_id"`
	Action     Action    `json:"action"`
	Context    Context   `json:"context,omitempty"`
	DueAt      time.Time `json:"due_at"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  string    `json:"created_at"`
}

// DelayQueue holds actions declared with delay_hours. Delivery is at-least-once.
type DelayQueue interface {
	Enqueue(ctx context.Context, p PendingAction) (PendingAction, error)
	Due(ctx context.Context, now time.Time) ([]PendingAction, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) (final bool, err error)
	List(ctx context.Context, status string) ([]PendingAction, error)
}

// StoreQueue keeps pending actions in the pending_actions collection. Rows that
// cannot be decoded are marked failed and reported instead of blocking the queue.
type StoreQueue struct {
	Store       store.Store
	Now         func() time.Time
	MaxAttempts int
	Logger      *log.Logger
	OnInvalid   func(pendingID string, err error)
}

func (q StoreQueue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q StoreQueue) Enqueue(ctx context.Context, p PendingAction) (PendingAction, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = PendingStatusPending
	p.CreatedAt = q.now().UTC().Format(time.RFC3339)
	action, err := json.Marshal(p.Action)
	if err != nil {
		return PendingAction{}, fmt.Errorf("encode action: %w", err)
	}
	snapshot, err := json.Marshal(p.Context)
	if err != nil {
		return PendingAction{}, fmt.Errorf("encode context: %w", err)
	}
	_, err = q.Store.Append(ctx, store.PendingActions, store.Record{
		"id":           p.ID,
		"workflow_id":  p.WorkflowID,
		"task_id":      p.TaskID,
		"action_json":  string(action),
		"context_json": string(snapshot),
		"due_at":       p.DueAt.UTC().Format(time.RFC3339),
		"status":       p.Status,
		"attempts":     "0",
		"created_at":   p.CreatedAt,
	})
	if err != nil {
		return PendingAction{}, err
	}
	return p, nil
}

func (q StoreQueue) Due(ctx context.Context, now time.Time) ([]PendingAction, error) {
	cutoff := now.UTC().Format(time.RFC3339)
	rows, err := q.Store.Find(ctx, store.PendingActions, func(r store.Record) bool {
		return r["status"] == PendingStatusPending && r["due_at"] <= cutoff
	})
	if err != nil {
		return nil, err
	}
	out := make([]PendingAction, 0, len(rows))
	for _, r := range rows {
		p, err := decodePending(r)
		if err != nil {
			q.quarantine(ctx, p.ID, err)
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (q StoreQueue) List(ctx context.Context, status string) ([]PendingAction, error) {
	rows, err := q.Store.Find(ctx, store.PendingActions, func(r store.Record) bool {
		return status == "" || r["status"] == status
	})
	if err != nil {
		return nil, err
	}
	out := make([]PendingAction, 0, len(rows))
	for _, r := range rows {
		p, err := decodePending(r)
		if err != nil && p.LastError == "" {
			p.LastError = err.Error()
		}
		out = append(out, p)
	}
	return out, nil
}

func (q StoreQueue) quarantine(ctx context.Context, id string, cause error) {
	logger := q.Logger
	if logger == nil {
		logger = log.Default()
	}
	err := q.Store.Update(ctx, store.PendingActions, id, store.Record{
		"status":     PendingStatusFailed,
		"last_error": cause.Error(),
	})
	if err != nil {
		logger.Printf("rules: mark pending %s failed: %v", id, err)
	}
	if q.OnInvalid != nil {
		q.OnInvalid(id, cause)
		return
	}
	logger.Printf("rules: skipping pending action: %v", cause)
}

func (q StoreQueue) Complete(ctx context.Context, id string) error {
	return q.Store.Update(ctx, store.PendingActions, id, store.Record{"status": PendingStatusDone, "last_error": ""})
}

func (q StoreQueue) Fail(ctx context.Context, id string, cause error) (bool, error) {
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	final := false
	err := q.Store.Mutate(ctx, store.PendingActions, id, func(r store.Record) (store.Record, error) {
		attempts, _ := strconv.Atoi(r["attempts"])
		attempts++
		status := PendingStatusPending
		if attempts >= maxAttempts {
			status = PendingStatusFailed
			final = true
		}
		return store.Record{
			"attempts":   strconv.Itoa(attempts),
			"status":     status,
			"last_error": cause.Error(),
		}, nil
	})
	return final, err
}

// decodePending always fills the plain columns, so callers can still name a row
// that failed to decode.
func decodePending(r store.Record) (PendingAction, error) {
	p := PendingAction{
		ID:         r["id"],
		WorkflowID: r["workflow_id"],
		TaskID:     r["task_id"],
		Status:     r["status"],
		LastError:  r["last_error"],
		CreatedAt:  r["created_at"],
	}
	p.Attempts, _ = strconv.Atoi(r["attempts"])
	due, err := time.Parse(time.RFC3339, r["due_at"])
	if err != nil {
		return p, fmt.Errorf("pending action %s: due_at: %w", p.ID, err)
	}
	p.DueAt = due
	if err := json.Unmarshal([]byte(r["action_json"]), &p.Action); err != nil {
		return p, fmt.Errorf("pending action %s: action: %w", p.ID, err)
	}
	if s := r["context_json"]; s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &p.Context); err != nil {
			return p, fmt.Errorf("pending action %s: context: %w", p.ID, err)
		}
	}
	return p, nil
}
