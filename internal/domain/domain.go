package domain

import (
	"sort"
	"strconv"
	"strings"
)

// Task field names as stored in the tasks collection.
const (
	FieldTaskID           = "task_id"
	FieldStatus           = "status"
	FieldName             = "name"
	FieldDescription      = "description"
	FieldAssignee         = "assignee"
	FieldDueDate          = "due_date"
	FieldPriority         = "priority"
	FieldProjectTag       = "project_tag"
	FieldInteractionLog   = "interaction_log"
	FieldNegotiationNotes = "negotiation_notes"
	FieldProgress         = "progress"
	FieldSource           = "source"
	FieldCreatedAt        = "created_at"
	FieldLastUpdated      = "last_updated"
)

// Staff and project field names.
const (
	FieldEmail            = "email"
	FieldRole             = "role"
	FieldReliabilityScore = "reliability_score"
	FieldActiveTaskCount  = "active_task_count"
	FieldProjectTags      = "project_tags"
	FieldProjectName      = "project_name"
	FieldTeamMembers      = "team_members"
)

type Task struct {
	ID               string `json:"task_id"`
	Status           Status `json:"status" enum:"needs_clarification,not_started,in_progress,pending_approval,on_hold,completed,archived"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	Assignee         string `json:"assignee,omitempty"`
	DueDate          string `json:"due_date,omitempty"`
	Priority         string `json:"priority" enum:"low,medium,high,urgent"`
	ProjectTag       string `json:"project_tag,omitempty"`
	InteractionLog   string `json:"interaction_log,omitempty"`
	NegotiationNotes string `json:"negotiation_notes,omitempty"`
	Progress         string `json:"progress,omitempty"`
	Source           string `json:"source,omitempty"`
	CreatedAt        string `json:"created_at"`
	LastUpdated      string `json:"last_updated"`
}

// TaskFromRecord builds a typed task view; status and priority are normalized on read.
func TaskFromRecord(rec map[string]string) Task {
	return Task{
		ID:               rec[FieldTaskID],
		Status:           NormalizeStatus(rec[FieldStatus]),
		Name:             rec[FieldName],
		Description:      rec[FieldDescription],
		Assignee:         rec[FieldAssignee],
		DueDate:          rec[FieldDueDate],
		Priority:         NormalizePriority(rec[FieldPriority]),
		ProjectTag:       rec[FieldProjectTag],
		InteractionLog:   rec[FieldInteractionLog],
		NegotiationNotes: rec[FieldNegotiationNotes],
		Progress:         rec[FieldProgress],
		Source:           rec[FieldSource],
		CreatedAt:        rec[FieldCreatedAt],
		LastUpdated:      rec[FieldLastUpdated],
	}
}

// Record flattens the task back into store fields.
func (t Task) Record() map[string]string {
	return map[string]string{
		FieldTaskID:           t.ID,
		FieldStatus:           string(NormalizeStatus(string(t.Status))),
		FieldName:             t.Name,
		FieldDescription:      t.Description,
		FieldAssignee:         t.Assignee,
		FieldDueDate:          t.DueDate,
		FieldPriority:         NormalizePriority(t.Priority),
		FieldProjectTag:       t.ProjectTag,
		FieldInteractionLog:   t.InteractionLog,
		FieldNegotiationNotes: t.NegotiationNotes,
		FieldProgress:         t.Progress,
		FieldSource:           t.Source,
		FieldCreatedAt:        t.CreatedAt,
		FieldLastUpdated:      t.LastUpdated,
	}
}

type Staff struct {
	Email            string   `json:"email"`
	Name             string   `json:"name"`
	Role             string   `json:"role,omitempty"`
	ReliabilityScore float64  `json:"reliability_score"`
	ActiveTaskCount  int      `json:"active_task_count"`
	ProjectTags      []string `json:"project_tags"`
	CreatedAt        string   `json:"created_at"`
}

func StaffFromRecord(rec map[string]string) Staff {
	score, err := strconv.ParseFloat(strings.TrimSpace(rec[FieldReliabilityScore]), 64)
	if err != nil {
		score = 1
	}
	count, _ := strconv.Atoi(strings.TrimSpace(rec[FieldActiveTaskCount]))
	return Staff{
		Email:            rec[FieldEmail],
		Name:             rec[FieldName],
		Role:             rec[FieldRole],
		ReliabilityScore: score,
		ActiveTaskCount:  count,
		ProjectTags:      SplitList(rec[FieldProjectTags]),
		CreatedAt:        rec[FieldCreatedAt],
	}
}

func (s Staff) Record() map[string]string {
	return map[string]string{
		FieldEmail:            s.Email,
		FieldName:             s.Name,
		FieldRole:             s.Role,
		FieldReliabilityScore: strconv.FormatFloat(s.ReliabilityScore, 'f', 2, 64),
		FieldActiveTaskCount:  strconv.Itoa(s.ActiveTaskCount),
		FieldProjectTags:      JoinList(s.ProjectTags),
		FieldCreatedAt:        s.CreatedAt,
	}
}

type Project struct {
	Tag         string   `json:"project_tag"`
	Name        string   `json:"project_name"`
	TeamMembers []string `json:"team_members"`
	CreatedAt   string   `json:"created_at"`
}

func ProjectFromRecord(rec map[string]string) Project {
	return Project{
		Tag:         rec[FieldProjectTag],
		Name:        rec[FieldProjectName],
		TeamMembers: SplitList(rec[FieldTeamMembers]),
		CreatedAt:   rec[FieldCreatedAt],
	}
}

func (p Project) Record() map[string]string {
	return map[string]string{
		FieldProjectTag:  p.Tag,
		FieldProjectName: p.Name,
		FieldTeamMembers: JoinList(p.TeamMembers),
		FieldCreatedAt:   p.CreatedAt,
	}
}

// WorkflowDefinition is the stored, still-encoded form of a workflow. Conditions and
// Actions hold either text (JSON or YAML) or already-decoded values.
type WorkflowDefinition struct {
	ID         string `json:"workflow_id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name"`
	Trigger    string `json:"trigger_event" yaml:"trigger"`
	Conditions any    `json:"conditions,omitempty" yaml:"conditions"`
	Actions    any    `json:"actions" yaml:"actions"`
	Active     any    `json:"active" yaml:"active"`
}

type ErrorEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Source  string `json:"source"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// SplitList parses a comma-joined cell into trimmed, non-empty values.
func SplitList(cell string) []string {
	out := []string{}
	for _, part := range strings.Split(cell, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// JoinList renders values as a sorted, de-duplicated comma-joined cell.
func JoinList(values []string) string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// ContainsFold reports whether values holds v, ignoring case.
func ContainsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

// RemoveFold drops every case-insensitive occurrence of v.
func RemoveFold(values []string, v string) []string {
	out := values[:0:0]
	for _, x := range values {
		if !strings.EqualFold(x, v) {
			out = append(out, x)
		}
	}
	return out
}
