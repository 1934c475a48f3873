package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/auditlog"
	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/resolver"
	"taskdesk/internal/rules"
	"taskdesk/internal/store"
)

// TaskCreateOptions are parameters for creating a task. Assignee and Project may be
// free text; they are resolved against staff and projects.
type TaskCreateOptions struct {
	Name        string
	Description string
	Assignee    string
	Project     string
	DueDate     string
	Priority    string
	Source      string
	ActorID     string
}

type TaskCreateResult struct {
	Task            domain.Task             `json:"task"`
	AssigneeMatch   *resolver.Match         `json:"assignee_match,omitempty"`
	ProjectMatch    *resolver.Match         `json:"project_match,omitempty"`
	WorkflowReports []rules.WorkflowReport `json:"workflows"`
}

// CreateTask stores a new task and fires task-created. A task whose assignee cannot
// be resolved stays in needs_clarification.
func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (TaskCreateResult, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return TaskCreateResult{}, invalidf("name is required")
	}
	if err := validateDate(opts.DueDate); err != nil {
		return TaskCreateResult{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return TaskCreateResult{}, fmt.Errorf("task id: %w", err)
	}
	now := e.stamp()
	task := domain.Task{
		ID:          id.String(),
		Status:      domain.StatusNeedsClarification,
		Name:        name,
		Description: strings.TrimSpace(opts.Description),
		DueDate:     strings.TrimSpace(opts.DueDate),
		Priority:    domain.NormalizePriority(opts.Priority),
		Source:      strings.TrimSpace(opts.Source),
		CreatedAt:   now,
		LastUpdated: now,
	}
	var res TaskCreateResult
	var notes []string
	if q := strings.TrimSpace(opts.Assignee); q != "" {
		if m, ok := e.resolveAssignee(ctx, q); ok {
			task.Assignee = m.ID
			task.Status = domain.StatusNotStarted
			res.AssigneeMatch = &m
		} else {
			notes = append(notes, fmt.Sprintf("Could not resolve assignee %q; needs clarification", q))
		}
	}
	if q := strings.TrimSpace(opts.Project); q != "" {
		if m, ok := e.resolveProject(ctx, q); ok {
			task.ProjectTag = m.ID
			res.ProjectMatch = &m
		} else {
			notes = append(notes, fmt.Sprintf("Could not resolve project %q", q))
		}
	}
	if _, err := e.Store.Append(ctx, store.Tasks, task.Record()); err != nil {
		return TaskCreateResult{}, err
	}
	created := "Task created"
	if task.Source != "" {
		created += " from " + task.Source
	}
	e.Audit.Append(ctx, task.ID, created)
	for _, n := range notes {
		e.Audit.Append(ctx, task.ID, n)
	}
	e.record(ctx, events.TaskCreated, "task", task.ID, opts.ActorID, events.EventPayload{
		"name": task.Name, "assignee": task.Assignee, "project_tag": task.ProjectTag, "status": task.Status,
	})

	res.WorkflowReports = e.fire(ctx, rules.TriggerTaskCreated, rules.Context{
		"task":   taskContext(task),
		"source": task.Source,
		"actor":  opts.ActorID,
	})
	res.Task, err = e.GetTask(ctx, task.ID)
	if err != nil {
		return TaskCreateResult{}, err
	}
	return res, nil
}

func (e *Engine) resolveAssignee(ctx context.Context, q string) (resolver.Match, bool) {
	if strings.Contains(q, "@") {
		rec, err := e.Store.Get(ctx, store.Staff, strings.ToLower(q))
		if err == nil {
			return resolver.Match{ID: rec[domain.FieldEmail], Name: rec[domain.FieldName], Strategy: resolver.StrategyExact, Score: 1}, true
		}
	}
	return e.Resolver.ResolveStaff(ctx, q)
}

func (e *Engine) resolveProject(ctx context.Context, q string) (resolver.Match, bool) {
	if rec, err := e.Store.Get(ctx, store.Projects, q); err == nil {
		return resolver.Match{ID: rec[domain.FieldProjectTag], Name: rec[domain.FieldProjectName], Strategy: resolver.StrategyTag, Score: 1}, true
	}
	return e.Resolver.ResolveProject(ctx, q)
}

func (e *Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	rec, err := e.Store.Get(ctx, store.Tasks, id)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.TaskFromRecord(rec), nil
}

type TaskFilter struct {
	Status   string
	Assignee string
	Project  string
}

func (e *Engine) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var status domain.Status
	if f.Status != "" {
		if !domain.IsKnownStatus(f.Status) {
			return nil, invalidf("unknown status %q", f.Status)
		}
		status = domain.NormalizeStatus(f.Status)
	}
	rows, err := e.Store.Find(ctx, store.Tasks, func(r store.Record) bool {
		if status != "" && domain.NormalizeStatus(r[domain.FieldStatus]) != status {
			return false
		}
		if f.Assignee != "" && !strings.EqualFold(r[domain.FieldAssignee], f.Assignee) {
			return false
		}
		if f.Project != "" && !strings.EqualFold(r[domain.FieldProjectTag], f.Project) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TaskFromRecord(r))
	}
	return out, nil
}

var protectedTaskFields = map[string]bool{
	domain.FieldTaskID:         true,
	domain.FieldCreatedAt:      true,
	domain.FieldLastUpdated:    true,
	domain.FieldInteractionLog: true,
}

// UpdateTask is the single write path for task fields. It normalizes status and
// priority, stamps last_updated and appends an audit entry. It does not fire
// triggers. interaction_log is written only by the audit log manager, see AppendLog.
func (e *Engine) UpdateTask(ctx context.Context, id string, fields map[string]string) (domain.Task, error) {
	if len(fields) == 0 {
		return domain.Task{}, invalidf("no fields to update")
	}
	changes := store.Record{}
	for k, v := range fields {
		if protectedTaskFields[k] {
			return domain.Task{}, invalidf("field %s cannot be updated", k)
		}
		switch k {
		case domain.FieldStatus:
			v = string(domain.NormalizeStatus(v))
		case domain.FieldPriority:
			v = domain.NormalizePriority(v)
		case domain.FieldDueDate:
			if err := validateDate(v); err != nil {
				return domain.Task{}, err
			}
		}
		changes[k] = v
	}
	changes[domain.FieldLastUpdated] = e.stamp()

	var diffs []string
	err := e.Store.Mutate(ctx, store.Tasks, id, func(cur store.Record) (store.Record, error) {
		diffs = describeChanges(cur, changes)
		return changes, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	msg := "Updated " + strings.Join(diffs, "; ")
	if len(diffs) == 0 {
		msg = "Updated with no field changes"
	}
	e.Audit.Append(ctx, id, msg)
	e.record(ctx, events.TaskUpdated, "task", id, "", events.EventPayload{"changes": diffs})
	return e.GetTask(ctx, id)
}

var longTaskFields = map[string]bool{
	domain.FieldDescription:      true,
	domain.FieldNegotiationNotes: true,
	domain.FieldProgress:         true,
}

func describeChanges(cur, next store.Record) []string {
	var names []string
	for k := range next {
		if k == domain.FieldLastUpdated {
			continue
		}
		if cur[k] != next[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, k := range names {
		if longTaskFields[k] {
			out = append(out, k+" changed")
			continue
		}
		from := cur[k]
		if from == "" {
			from = "(none)"
		}
		to := next[k]
		if to == "" {
			to = "(none)"
		}
		out = append(out, fmt.Sprintf("%s: %s -> %s", k, from, to))
	}
	return out
}

type StatusChangeResult struct {
	Task            domain.Task             `json:"task"`
	OldStatus       domain.Status           `json:"old_status"`
	WorkflowReports []rules.WorkflowReport `json:"workflows"`
}

// ChangeStatus moves a task to a new status and fires status-changed when the value
// actually changes.
func (e *Engine) ChangeStatus(ctx context.Context, id, status, actorID string) (StatusChangeResult, error) {
	if !domain.IsKnownStatus(status) {
		return StatusChangeResult{}, invalidf("unknown status %q", status)
	}
	before, err := e.GetTask(ctx, id)
	if err != nil {
		return StatusChangeResult{}, err
	}
	next := domain.NormalizeStatus(status)
	task, err := e.UpdateTask(ctx, id, map[string]string{domain.FieldStatus: string(next)})
	if err != nil {
		return StatusChangeResult{}, err
	}
	res := StatusChangeResult{Task: task, OldStatus: before.Status}
	if before.Status == next {
		return res, nil
	}
	e.record(ctx, events.TaskStatus, "task", id, actorID, events.EventPayload{"from": before.Status, "to": next})
	res.WorkflowReports = e.fire(ctx, rules.TriggerStatusChanged, rules.Context{
		"task":       taskContext(task),
		"old_status": string(before.Status),
		"new_status": string(next),
		"actor":      actorID,
	})
	if res.Task, err = e.GetTask(ctx, id); err != nil {
		return StatusChangeResult{}, err
	}
	return res, nil
}

// Reply is an inbound message already classified upstream.
type Reply struct {
	Category        string `json:"category"`
	Summary         string `json:"summary,omitempty"`
	From            string `json:"from,omitempty"`
	ThreadID        string `json:"thread_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	ProposedDueDate string `json:"proposed_due_date,omitempty"`
}

type ReplyResult struct {
	Task            domain.Task             `json:"task"`
	WorkflowReports []rules.WorkflowReport `json:"workflows"`
}

// ClassifyReply records a classified reply on the task, keeping its correlation IDs
// in the log, and fires reply-classified.
func (e *Engine) ClassifyReply(ctx context.Context, id string, r Reply, actorID string) (ReplyResult, error) {
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	if r.Category == "" {
		return ReplyResult{}, invalidf("category is required")
	}
	if err := validateDate(r.ProposedDueDate); err != nil {
		return ReplyResult{}, err
	}
	if _, err := e.GetTask(ctx, id); err != nil {
		return ReplyResult{}, err
	}
	parts := []string{"Reply classified as " + r.Category}
	if r.From != "" {
		parts[0] += " from " + r.From
	}
	if s := strings.TrimSpace(r.Summary); s != "" {
		parts = append(parts, s)
	}
	var ids []string
	if r.ThreadID != "" {
		ids = append(ids, "Thread ID: "+r.ThreadID)
	}
	if r.MessageID != "" {
		ids = append(ids, "Message ID: "+r.MessageID)
	}
	if len(ids) > 0 {
		parts = append(parts, strings.Join(ids, "; "))
	}
	e.Audit.Append(ctx, id, strings.Join(parts, ". "))
	if r.ProposedDueDate != "" {
		if _, err := e.UpdateTask(ctx, id, map[string]string{
			domain.FieldNegotiationNotes: "Proposed due date " + r.ProposedDueDate + " (" + r.Category + " reply)",
		}); err != nil {
			return ReplyResult{}, err
		}
	}
	task, err := e.GetTask(ctx, id)
	if err != nil {
		return ReplyResult{}, err
	}
	e.record(ctx, events.ReplyClassified, "task", id, actorID, events.EventPayload{
		"category": r.Category, "thread_id": r.ThreadID, "message_id": r.MessageID,
	})
	reports := e.fire(ctx, rules.TriggerReplyClassified, rules.Context{
		"task": taskContext(task),
		"reply": map[string]any{
			"category":          r.Category,
			"summary":           r.Summary,
			"from":              r.From,
			"thread_id":         r.ThreadID,
			"message_id":        r.MessageID,
			"proposed_due_date": r.ProposedDueDate,
		},
		"actor": actorID,
	})
	if task, err = e.GetTask(ctx, id); err != nil {
		return ReplyResult{}, err
	}
	return ReplyResult{Task: task, WorkflowReports: reports}, nil
}

// AppendLog adds a free-form entry to a task's interaction log.
func (e *Engine) AppendLog(ctx context.Context, id, message string) (domain.Task, error) {
	if strings.TrimSpace(message) == "" {
		return domain.Task{}, invalidf("message is required")
	}
	if _, err := e.GetTask(ctx, id); err != nil {
		return domain.Task{}, err
	}
	if outcome := e.Audit.Append(ctx, id, message); outcome == auditlog.OutcomeFailed {
		e.logger().Printf("engine: log entry for %s was not written", id)
	}
	return e.GetTask(ctx, id)
}

func taskContext(t domain.Task) map[string]any {
	out := map[string]any{}
	for k, v := range t.Record() {
		if k == domain.FieldInteractionLog {
			continue
		}
		out[k] = v
	}
	return out
}

func validateDate(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return invalidf("due date %q must be YYYY-MM-DD", s)
	}
	return nil
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
