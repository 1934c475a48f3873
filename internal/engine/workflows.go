package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/rules"
	"taskdesk/internal/store"
)

// ImportWorkflows validates every definition first, then upserts them by ID.
// Nothing is written when any definition is invalid.
func (e *Engine) ImportWorkflows(ctx context.Context, defs []domain.WorkflowDefinition, actorID string) (int, error) {
	recs := make([]store.Record, 0, len(defs))
	seen := map[string]bool{}
	for _, def := range defs {
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return 0, invalidf("workflow id is required")
		}
		if seen[def.ID] {
			return 0, invalidf("duplicate workflow id %s", def.ID)
		}
		seen[def.ID] = true
		rec, err := rules.WorkflowRecord(def)
		if err != nil {
			return 0, invalidf("%v", err)
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		id := rec["workflow_id"]
		_, err := e.Store.Get(ctx, store.Workflows, id)
		switch {
		case err == nil:
			fields := rec.Clone()
			delete(fields, "workflow_id")
			if err := e.Store.Update(ctx, store.Workflows, id, fields); err != nil {
				return 0, err
			}
		case errors.Is(err, store.ErrNotFound):
			if _, err := e.Store.Append(ctx, store.Workflows, rec); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
		e.record(ctx, events.WorkflowImported, "workflow", id, actorID, events.EventPayload{"trigger": rec["trigger_event"], "active": rec["active"]})
	}
	return len(recs), nil
}

// SeedWorkflows imports defs only when the workflow collection is empty.
func (e *Engine) SeedWorkflows(ctx context.Context, defs []domain.WorkflowDefinition) (int, error) {
	rows, err := e.Store.Find(ctx, store.Workflows, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) > 0 || len(defs) == 0 {
		return 0, nil
	}
	return e.ImportWorkflows(ctx, defs, "")
}

// WorkflowView is a stored workflow as listed to callers.
type WorkflowView struct {
	domain.WorkflowDefinition
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (e *Engine) ListWorkflows(ctx context.Context) ([]WorkflowView, error) {
	rows, err := e.Store.Find(ctx, store.Workflows, nil)
	if err != nil {
		return nil, err
	}
	out := make([]WorkflowView, 0, len(rows))
	for _, r := range rows {
		def := rules.DefinitionFromRecord(r)
		v := WorkflowView{WorkflowDefinition: def, Valid: true}
		v.Active = rules.ParseActive(def.Active)
		if _, err := rules.ParseWorkflow(def); err != nil {
			v.Valid = false
			v.Error = err.Error()
		}
		out = append(out, v)
	}
	return out, nil
}

// ListErrors returns diagnostic rows, newest first.
func (e *Engine) ListErrors(ctx context.Context, limit int) ([]domain.ErrorEntry, error) {
	rows, err := e.Store.Find(ctx, store.Errors, nil)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	out := make([]domain.ErrorEntry, 0, limit)
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		id, _ := strconv.ParseInt(rows[i]["id"], 10, 64)
		out = append(out, domain.ErrorEntry{
			ID:      id,
			TS:      rows[i]["ts"],
			Source:  rows[i]["source"],
			TaskID:  rows[i]["task_id"],
			Message: rows[i]["message"],
		})
	}
	return out, nil
}

func (e *Engine) ListEvents(ctx context.Context, f events.Filter) ([]domain.Event, error) {
	return e.Events.List(ctx, f)
}
