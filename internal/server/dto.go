package server

import (
	"encoding/json"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/resolver"
	"taskdesk/internal/rules"
)

// Request payloads

type CreateTaskRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty" doc:"Staff email or free-text name, resolved against staff"`
	Project     string `json:"project,omitempty" doc:"Project tag or free text, resolved against projects"`
	DueDate     string `json:"due_date,omitempty" example:"2024-07-01"`
	Priority    string `json:"priority,omitempty" example:"high"`
	Source      string `json:"source,omitempty" example:"email"`
}

// UpdateTaskRequest is a partial update. Status changes go through the status
// endpoint so they fire workflows.
type UpdateTaskRequest struct {
	Name             *string `json:"name,omitempty"`
	Description      *string `json:"description,omitempty"`
	Assignee         *string `json:"assignee,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
	Priority         *string `json:"priority,omitempty"`
	ProjectTag       *string `json:"project_tag,omitempty"`
	NegotiationNotes *string `json:"negotiation_notes,omitempty"`
	Progress         *string `json:"progress,omitempty"`
}

func (r UpdateTaskRequest) fields() map[string]string {
	out := map[string]string{}
	set := func(name string, v *string) {
		if v != nil {
			out[name] = *v
		}
	}
	set(domain.FieldName, r.Name)
	set(domain.FieldDescription, r.Description)
	set(domain.FieldAssignee, r.Assignee)
	set(domain.FieldDueDate, r.DueDate)
	set(domain.FieldPriority, r.Priority)
	set(domain.FieldProjectTag, r.ProjectTag)
	set(domain.FieldNegotiationNotes, r.NegotiationNotes)
	set(domain.FieldProgress, r.Progress)
	return out
}

type ChangeStatusRequest struct {
	Status string `json:"status" example:"in_progress"`
}

type ReplyRequest struct {
	Category        string `json:"category" example:"completion"`
	Summary         string `json:"summary,omitempty"`
	From            string `json:"from,omitempty"`
	ThreadID        string `json:"thread_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	ProposedDueDate string `json:"proposed_due_date,omitempty"`
}

type AppendLogRequest struct {
	Message string `json:"message" minLength:"1"`
}

type CreateStaffRequest struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name" minLength:"1"`
	Role  string `json:"role,omitempty"`
}

type CreateProjectRequest struct {
	Tag  string `json:"project_tag" minLength:"1"`
	Name string `json:"project_name" minLength:"1"`
}

type FireTriggerRequest struct {
	TaskID  string         `json:"task_id,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Response payloads

type TaskResponse = domain.Task

type TaskCreateResponse = engine.TaskCreateResult

type taskList struct {
	Items []domain.Task `json:"items"`
}

type staffList struct {
	Items []domain.Staff `json:"items"`
}

type projectList struct {
	Items []domain.Project `json:"items"`
}

type workflowList struct {
	Items []engine.WorkflowView `json:"items"`
}

type LinkResponse struct {
	Staff   domain.Staff   `json:"staff"`
	Project domain.Project `json:"project"`
}

type ResolveResponse struct {
	Query string          `json:"query"`
	Found bool            `json:"found"`
	Match *resolver.Match `json:"match,omitempty"`
}

type TriggerResponse struct {
	Trigger   string                 `json:"trigger"`
	Workflows []rules.WorkflowReport `json:"workflows"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
