package domain

import "strings"

type Status string

const (
	StatusNeedsClarification Status = "needs_clarification"
	StatusNotStarted         Status = "not_started"
	StatusInProgress         Status = "in_progress"
	StatusPendingApproval    Status = "pending_approval"
	StatusOnHold             Status = "on_hold"
	StatusCompleted          Status = "completed"
	StatusArchived           Status = "archived"
)

// Statuses lists the canonical lifecycle values in lifecycle order.
var Statuses = []Status{
	StatusNeedsClarification,
	StatusNotStarted,
	StatusInProgress,
	StatusPendingApproval,
	StatusOnHold,
	StatusCompleted,
	StatusArchived,
}

var statusAliases = map[string]Status{
	"":                    StatusNeedsClarification,
	"new":                 StatusNeedsClarification,
	"needs clarification": StatusNeedsClarification,
	"clarify":             StatusNeedsClarification,
	"unclear":             StatusNeedsClarification,
	"not started":         StatusNotStarted,
	"assigned":            StatusNotStarted,
	"todo":                StatusNotStarted,
	"to do":               StatusNotStarted,
	"open":                StatusNotStarted,
	"in progress":         StatusInProgress,
	"started":             StatusInProgress,
	"active":              StatusInProgress,
	"doing":               StatusInProgress,
	"pending approval":    StatusPendingApproval,
	"awaiting approval":   StatusPendingApproval,
	"review":              StatusPendingApproval,
	"in review":           StatusPendingApproval,
	"on hold":             StatusOnHold,
	"blocked":             StatusOnHold,
	"paused":              StatusOnHold,
	"waiting":             StatusOnHold,
	"completed":           StatusCompleted,
	"complete":            StatusCompleted,
	"done":                StatusCompleted,
	"closed":              StatusCompleted,
	"finished":            StatusCompleted,
	"archived":            StatusArchived,
	"archive":             StatusArchived,
	"cancelled":           StatusArchived,
	"canceled":            StatusArchived,
}

// NormalizeStatus maps legacy or free-form values onto the enum. Anything it does not
// recognise lands in needs_clarification so a human looks at it.
func NormalizeStatus(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")
	if s, ok := statusAliases[key]; ok {
		return s
	}
	for _, s := range Statuses {
		if key == strings.ReplaceAll(string(s), "_", " ") {
			return s
		}
	}
	return StatusNeedsClarification
}

// IsKnownStatus reports whether raw normalizes to something other than the fallback.
func IsKnownStatus(raw string) bool {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return false
	}
	s := NormalizeStatus(raw)
	if s != StatusNeedsClarification {
		return true
	}
	_, ok := statusAliases[strings.Join(strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(key)), " ")]
	return ok
}

// Open reports whether the task still counts as active work.
func (s Status) Open() bool {
	return s != StatusCompleted && s != StatusArchived
}

var priorities = []string{"low", "medium", "high", "urgent"}

// NormalizePriority lowercases known priorities and defaults everything else to medium.
func NormalizePriority(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	switch key {
	case "p0", "critical", "asap":
		return "urgent"
	case "p1":
		return "high"
	case "p2", "normal":
		return "medium"
	case "p3":
		return "low"
	}
	for _, p := range priorities {
		if key == p {
			return p
		}
	}
	return "medium"
}
