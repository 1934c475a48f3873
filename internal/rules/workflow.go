package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"taskdesk/internal/domain"
	"taskdesk/internal/store"
)

// Workflow is a parsed definition, ready to evaluate.
type Workflow struct {
	ID         string
	Name       string
	Trigger    string
	Active     bool
	Conditions []Condition
	Actions    []Action
}

// ParseWorkflow decodes conditions and actions once, at load time.
func ParseWorkflow(def domain.WorkflowDefinition) (Workflow, error) {
	conds, err := ParseConditions(def.Conditions)
	if err != nil {
		return Workflow{}, fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	actions, err := ParseActions(def.Actions)
	if err != nil {
		return Workflow{}, fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	return Workflow{
		ID:         def.ID,
		Name:       def.Name,
		Trigger:    strings.TrimSpace(def.Trigger),
		Active:     ParseActive(def.Active),
		Conditions: conds,
		Actions:    actions,
	}, nil
}

// ParseActive reads a boolean-like flag: true/yes/y/1/on, case-insensitive.
func ParseActive(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y", "1", "on":
			return true
		}
		return false
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return false
}

// DefinitionFromRecord reads a stored workflow row.
func DefinitionFromRecord(rec store.Record) domain.WorkflowDefinition {
	return domain.WorkflowDefinition{
		ID:         rec["workflow_id"],
		Name:       rec["name"],
		Trigger:    rec["trigger_event"],
		Conditions: rec["conditions"],
		Actions:    rec["actions"],
		Active:     rec["active"],
	}
}

// WorkflowRecord encodes a definition for storage. Conditions and actions are
// validated and stored as JSON text.
func WorkflowRecord(def domain.WorkflowDefinition) (store.Record, error) {
	if _, err := ParseWorkflow(def); err != nil {
		return nil, err
	}
	conds, err := encodeText(def.Conditions, "{}")
	if err != nil {
		return nil, fmt.Errorf("workflow %s conditions: %w", def.ID, err)
	}
	actions, err := encodeText(def.Actions, "[]")
	if err != nil {
		return nil, fmt.Errorf("workflow %s actions: %w", def.ID, err)
	}
	active := "false"
	if ParseActive(def.Active) {
		active = "true"
	}
	return store.Record{
		"workflow_id":   def.ID,
		"name":          def.Name,
		"trigger_event": strings.TrimSpace(def.Trigger),
		"conditions":    conds,
		"actions":       actions,
		"active":        active,
	}, nil
}

func encodeText(v any, empty string) (string, error) {
	switch t := v.(type) {
	case nil:
		return empty, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return empty, nil
		}
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WorkflowSource supplies the current workflow definitions.
type WorkflowSource interface {
	Workflows(ctx context.Context) ([]Workflow, error)
}

// StoreSource loads the active workflows from the workflows collection. Rows that
// fail to parse are reported and skipped so they never block the others; inactive
// rows are never parsed.
type StoreSource struct {
	Store     store.Store
	Logger    *log.Logger
	OnInvalid func(workflowID string, err error)
}

func (s StoreSource) Workflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.Store.Find(ctx, store.Workflows, nil)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	out := make([]Workflow, 0, len(rows))
	for _, row := range rows {
		if !ParseActive(row["active"]) {
			continue
		}
		wf, err := ParseWorkflow(DefinitionFromRecord(row))
		if err != nil {
			if s.OnInvalid != nil {
				s.OnInvalid(row["workflow_id"], err)
			} else {
				logger := s.Logger
				if logger == nil {
					logger = log.Default()
				}
				logger.Printf("rules: skipping workflow: %v", err)
			}
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

// StaticSource serves a fixed list.
type StaticSource []Workflow

func (s StaticSource) Workflows(context.Context) ([]Workflow, error) {
	return s, nil
}
