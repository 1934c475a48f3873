package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"taskdesk/internal/auditlog"
	"taskdesk/internal/domain"
	"taskdesk/internal/resolver"
)

type ActionKind string

const (
	SendAssignment ActionKind = "send_assignment"
	UpdateStatus   ActionKind = "update_status"
	UpdatePriority ActionKind = "update_priority"
	AddLog         ActionKind = "add_log"
	SendFollowUp   ActionKind = "send_followup"
	Escalate       ActionKind = "escalate"
	Reassign       ActionKind = "reassign"
)

var kindAliases = map[string]ActionKind{
	"send_assignment_notice": SendAssignment,
	"assign":                 SendAssignment,
	"change_status":          UpdateStatus,
	"set_status":             UpdateStatus,
	"change_priority":        UpdatePriority,
	"set_priority":           UpdatePriority,
	"log":                    AddLog,
	"append_log":             AddLog,
	"send_follow_up":         SendFollowUp,
	"follow_up":              SendFollowUp,
	"followup":               SendFollowUp,
	"send_escalation":        Escalate,
}

// ParseKind maps a declared type onto a known kind. Unknown types keep their raw
// name and fail at dispatch.
func ParseKind(raw string) ActionKind {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	if k, ok := kindAliases[key]; ok {
		return k
	}
	return ActionKind(key)
}

// Action is one declared step of a workflow.
type Action struct {
	Kind       ActionKind     `json:"-"`
	Type       string         `json:"type"`
	Params     map[string]any `json:"params,omitempty"`
	DelayHours float64        `json:"delay_hours,omitempty"`
}

func (a Action) param(name string) string {
	v, ok := a.Params[name]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// ParseActions normalizes a stored action list: decoded values or JSON/YAML text,
// a list or a single action map.
func ParseActions(raw any) ([]Action, error) {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || s == "[]" || s == "null" {
			return nil, nil
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
		raw = decoded
	}
	if raw == nil {
		return nil, nil
	}
	var items []any
	if list, ok := asList(raw); ok {
		items = list
	} else if m, ok := asMap(raw); ok {
		items = []any{m}
	} else {
		return nil, fmt.Errorf("actions must be a list, got %T", raw)
	}
	out := make([]Action, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("action %d: expected a map, got %T", i, item)
		}
		a, err := parseAction(m)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func parseAction(m map[string]any) (Action, error) {
	typ, _ := m["type"].(string)
	if strings.TrimSpace(typ) == "" {
		return Action{}, fmt.Errorf("type is required")
	}
	a := Action{Kind: ParseKind(typ), Type: typ, Params: map[string]any{}}
	for k, v := range m {
		switch k {
		case "type":
		case "delay_hours":
			hours, ok := toFloat(v)
			if !ok {
				return Action{}, fmt.Errorf("delay_hours %v is not a number", v)
			}
			a.DelayHours = hours
		case "params":
			nested, ok := asMap(v)
			if !ok {
				return Action{}, fmt.Errorf("params must be a map")
			}
			for pk, pv := range nested {
				a.Params[pk] = pv
			}
		default:
			a.Params[k] = v
		}
	}
	return a, nil
}

// UnmarshalJSON restores Kind from Type.
func (a *Action) UnmarshalJSON(data []byte) error {
	type plain Action
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Action(p)
	a.Kind = ParseKind(a.Type)
	return nil
}

// TaskWriter applies field changes through the audited task update path.
type TaskWriter interface {
	UpdateTask(ctx context.Context, id string, fields map[string]string) (domain.Task, error)
}

// Messenger sends outbound notices about a task.
type Messenger interface {
	SendAssignmentNotice(ctx context.Context, taskID string) error
	SendFollowUp(ctx context.Context, taskID string) error
	SendEscalation(ctx context.Context, taskID string) error
}

type AuditLogger interface {
	Append(ctx context.Context, taskID, message string) auditlog.Outcome
}

type StaffResolver interface {
	ResolveStaff(ctx context.Context, query string) (resolver.Match, bool)
}

// Deps are the collaborators action handlers call back into.
type Deps struct {
	Tasks     TaskWriter
	Messenger Messenger
	Audit     AuditLogger
	Staff     StaffResolver
}

// Invocation is a single action about to run.
type Invocation struct {
	WorkflowID string
	TaskID     string
	Action     Action
	Context    Context
}

type Handler func(ctx context.Context, d Deps, inv Invocation) error

// Registry maps every supported kind to its handler.
type Registry map[ActionKind]Handler

func DefaultRegistry() Registry {
	return Registry{
		SendAssignment: sendAssignment,
		UpdateStatus:   updateStatus,
		UpdatePriority: updatePriority,
		AddLog:         addLog,
		SendFollowUp:   sendFollowUp,
		Escalate:       escalate,
		Reassign:       reassign,
	}
}

// Kinds lists the registered kinds.
func (r Registry) Kinds() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, string(k))
	}
	return out
}

func requireTask(inv Invocation) error {
	if inv.TaskID == "" {
		return fmt.Errorf("no task in context")
	}
	return nil
}

func sendAssignment(ctx context.Context, d Deps, inv Invocation) error {
	if err := requireTask(inv); err != nil {
		return err
	}
	if d.Messenger == nil {
		return fmt.Errorf("messaging not configured")
	}
	return d.Messenger.SendAssignmentNotice(ctx, inv.TaskID)
}

func sendFollowUp(ctx context.Context, d Deps, inv Invocation) error {
	if err := requireTask(inv); err != nil {
		return err
	}
	if d.Messenger == nil {
		return fmt.Errorf("messaging not configured")
	}
	return d.Messenger.SendFollowUp(ctx, inv.TaskID)
}

func escalate(ctx context.Context, d Deps, inv Invocation) error {
	if err := requireTask(inv); err != nil {
		return err
	}
	if d.Messenger == nil {
		return fmt.Errorf("messaging not configured")
	}
	return d.Messenger.SendEscalation(ctx, inv.TaskID)
}

func updateStatus(ctx context.Context, d Deps, inv Invocation) error {
	if err := requireTask(inv); err != nil {
		return err
	}
	raw := inv.Action.param("status")
	if !domain.IsKnownStatus(raw) {
		return fmt.Errorf("unknown status %q", raw)
	}
	_, err := d.Tasks.UpdateTask(ctx, inv.TaskID, map[string]string{
		domain.FieldStatus: string(domain.NormalizeStatus(raw)),
	})
	return err
}

func updatePriority(ctx context.Context, d Deps, inv Invocation) error {
	if err := requireTask(inv); err != nil {
		return err
	}
	raw := inv.Action.param("priority")
	if raw == "" {
		return fmt.Errorf("priority is required")
	}
	_, err := d.Tasks.UpdateTask(ctx, inv.TaskID, map[string]string{
		domain.FieldPriority: domain.NormalizePriority(raw),
	})
	return err
}

func addLog(ctx context.Context, d Deps, inv Invocation) error {
	if err := requireTask(inv); err != nil {
		return err
	}
	msg := inv.Action.param("message")
	if msg == "" {
		return fmt.Errorf("message is required")
	}
	if d.Audit == nil {
		return fmt.Errorf("audit log not configured")
	}
	d.Audit.Append(ctx, inv.TaskID, expand(msg, inv.Context))
	return nil
}

func reassign(ctx context.Context, d Deps, inv Invocation) error {
	if err := requireTask(inv); err != nil {
		return err
	}
	who := inv.Action.param("assignee")
	if who == "" {
		who = inv.Action.param("to")
	}
	if who == "" {
		return fmt.Errorf("assignee is required")
	}
	email := who
	if !strings.Contains(who, "@") {
		if d.Staff == nil {
			return fmt.Errorf("staff resolver not configured")
		}
		m, ok := d.Staff.ResolveStaff(ctx, who)
		if !ok {
			return fmt.Errorf("could not resolve assignee %q", who)
		}
		email = m.ID
	}
	_, err := d.Tasks.UpdateTask(ctx, inv.TaskID, map[string]string{domain.FieldAssignee: email})
	return err
}

// expand substitutes {dotted.path} placeholders from the event context.
func expand(msg string, c Context) string {
	if !strings.Contains(msg, "{") {
		return msg
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(msg, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(msg[open:], '}')
		if end < 0 {
			break
		}
		b.WriteString(msg[:open])
		key := msg[open+1 : open+end]
		if v, ok := c.Lookup(key); ok && v != nil {
			b.WriteString(formatValue(v))
		} else {
			b.WriteString(msg[open : open+end+1])
		}
		msg = msg[open+end+1:]
	}
	b.WriteString(msg)
	return b.String()
}

func formatValue(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
