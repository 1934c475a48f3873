// Package rules evaluates workflow definitions against trigger events and runs the
// matching actions.
package rules

import (
	"context"
	"fmt"
	"log"
	"time"

	"taskdesk/internal/events"
)

// Trigger names fired by the orchestrator. Dispatch is by exact string equality.
const (
	TriggerTaskCreated     = "task-created"
	TriggerStatusChanged   = "status-changed"
	TriggerReplyClassified = "reply-classified"
)

const (
	DelayModeQueue    = "queue"
	DelayModeAdvisory = "advisory"
)

type ActionResult struct {
	Type      string `json:"type"`
	Executed  bool   `json:"executed"`
	Error     string `json:"error,omitempty"`
	Scheduled bool   `json:"scheduled,omitempty"`
	DueAt     string `json:"due_at,omitempty"`
}

type WorkflowReport struct {
	WorkflowID string         `json:"workflow_id"`
	Executed   bool           `json:"executed"`
	Actions    []ActionResult `json:"actions"`
}

// DueResult reports one delayed action that came due.
type DueResult struct {
	PendingID  string       `json:"pending_id"`
	WorkflowID string       `json:"workflow_id"`
	TaskID     string       `json:"task_id"`
	Result     ActionResult `json:"result"`
	Final      bool         `json:"final,omitempty"`
}

type Engine struct {
	Source    WorkflowSource
	Registry  Registry
	Deps      Deps
	Queue     DelayQueue
	DelayMode string
	Events    events.Writer
	Logger    *log.Logger
	Now       func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) registry() Registry {
	if e.Registry != nil {
		return e.Registry
	}
	return DefaultRegistry()
}

// TaskIDFrom finds the task an event is about.
func TaskIDFrom(evt Context) string {
	if v, ok := evt.Lookup("task.task_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if s, ok := evt["task_id"].(string); ok {
		return s
	}
	return ""
}

// EvaluateAndRun runs every active workflow for trigger whose conditions hold.
// Only matched workflows are reported. The error is non-nil only when workflows
// cannot be loaded.
func (e Engine) EvaluateAndRun(ctx context.Context, trigger string, evt Context) ([]WorkflowReport, error) {
	workflows, err := e.Source.Workflows(ctx)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		evt = Context{}
	}
	taskID := TaskIDFrom(evt)
	var reports []WorkflowReport
	for _, wf := range workflows {
		if !wf.Active || wf.Trigger != trigger {
			continue
		}
		ok, err := Matches(wf.Conditions, evt)
		if err != nil {
			e.logger().Printf("rules: workflow %s skipped: %v", wf.ID, err)
			e.record(ctx, events.WorkflowSkipped, taskID, events.EventPayload{
				"workflow_id": wf.ID, "trigger": trigger, "error": err.Error(),
			})
			continue
		}
		if !ok {
			continue
		}
		report := WorkflowReport{WorkflowID: wf.ID, Executed: true, Actions: []ActionResult{}}
		for _, a := range wf.Actions {
			inv := Invocation{WorkflowID: wf.ID, TaskID: taskID, Action: a, Context: evt}
			report.Actions = append(report.Actions, e.runOrSchedule(ctx, inv))
		}
		e.record(ctx, events.WorkflowExecuted, taskID, events.EventPayload{
			"workflow_id": wf.ID, "trigger": trigger, "actions": report.Actions,
		})
		reports = append(reports, report)
	}
	return reports, nil
}

func (e Engine) runOrSchedule(ctx context.Context, inv Invocation) ActionResult {
	if inv.Action.DelayHours <= 0 {
		return e.dispatch(ctx, inv)
	}
	if e.DelayMode == DelayModeAdvisory || e.Queue == nil {
		e.logger().Printf("rules: workflow %s action %s: delay_hours=%g treated as advisory, running now",
			inv.WorkflowID, inv.Action.Type, inv.Action.DelayHours)
		return e.dispatch(ctx, inv)
	}
	due := e.now().Add(time.Duration(inv.Action.DelayHours * float64(time.Hour)))
	p, err := e.Queue.Enqueue(ctx, PendingAction{
		WorkflowID: inv.WorkflowID,
		TaskID:     inv.TaskID,
		Action:     inv.Action,
		Context:    inv.Context,
		DueAt:      due,
	})
	res := ActionResult{Type: inv.Action.Type}
	if err != nil {
		res.Error = fmt.Sprintf("schedule: %v", err)
		e.record(ctx, events.ActionFailed, inv.TaskID, events.EventPayload{
			"workflow_id": inv.WorkflowID, "type": inv.Action.Type, "error": res.Error,
		})
		return res
	}
	res.Scheduled = true
	res.DueAt = p.DueAt.UTC().Format(time.RFC3339)
	e.record(ctx, events.ActionScheduled, inv.TaskID, events.EventPayload{
		"workflow_id": inv.WorkflowID, "type": inv.Action.Type, "pending_id": p.ID, "due_at": res.DueAt,
	})
	return res
}

// dispatch runs one action in isolation; errors and panics become a failed result.
func (e Engine) dispatch(ctx context.Context, inv Invocation) (res ActionResult) {
	res = ActionResult{Type: inv.Action.Type}
	defer func() {
		if r := recover(); r != nil {
			res.Executed = false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		if res.Error != "" {
			e.record(ctx, events.ActionFailed, inv.TaskID, events.EventPayload{
				"workflow_id": inv.WorkflowID, "type": inv.Action.Type, "error": res.Error,
			})
		}
	}()
	h, ok := e.registry()[inv.Action.Kind]
	if !ok {
		res.Error = fmt.Sprintf("unknown action type %q", inv.Action.Type)
		return res
	}
	if err := h(ctx, e.Deps, inv); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Executed = true
	return res
}

// RunDue executes queued actions whose due time has passed, one at a time.
func (e Engine) RunDue(ctx context.Context) ([]DueResult, error) {
	if e.Queue == nil {
		return nil, nil
	}
	due, err := e.Queue.Due(ctx, e.now())
	if err != nil {
		return nil, err
	}
	var out []DueResult
	for _, p := range due {
		inv := Invocation{WorkflowID: p.WorkflowID, TaskID: p.TaskID, Action: p.Action, Context: p.Context}
		res := e.dispatch(ctx, inv)
		dr := DueResult{PendingID: p.ID, WorkflowID: p.WorkflowID, TaskID: p.TaskID, Result: res}
		if res.Executed {
			if err := e.Queue.Complete(ctx, p.ID); err != nil {
				e.logger().Printf("rules: complete pending %s: %v", p.ID, err)
			}
			e.record(ctx, events.ActionDelivered, p.TaskID, events.EventPayload{
				"workflow_id": p.WorkflowID, "type": p.Action.Type, "pending_id": p.ID,
			})
		} else {
			final, err := e.Queue.Fail(ctx, p.ID, fmt.Errorf("%s", res.Error))
			if err != nil {
				e.logger().Printf("rules: fail pending %s: %v", p.ID, err)
			}
			dr.Final = final
		}
		out = append(out, dr)
	}
	return out, nil
}

func (e Engine) record(ctx context.Context, evtType, taskID string, payload events.EventPayload) {
	if e.Events.DB == nil {
		return
	}
	if err := e.Events.Append(ctx, evtType, "task", taskID, "rules", payload); err != nil {
		e.logger().Printf("rules: record %s: %v", evtType, err)
	}
}
