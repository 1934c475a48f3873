// Package auditlog keeps each task's interaction log bounded while preserving
// Thread ID and Message ID references across compaction.
package auditlog

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/store"
)

// EntryTimeFormat is the timestamp prefix of every log line.
const EntryTimeFormat = "2006-01-02 15:04:05"

// Diagnostics receives failures that Append swallows.
type Diagnostics interface {
	Report(ctx context.Context, source, taskID string, err error)
}

// Manager appends audit entries. Append never fails from the caller's point of view.
type Manager struct {
	Store       store.Store
	Limits      Limits
	Now         func() time.Time
	Diagnostics Diagnostics
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// FormatEntry renders "timestamp - message" on a single line.
func FormatEntry(at time.Time, message string) string {
	flat := strings.Join(strings.Fields(strings.NewReplacer("\r", " ", "\n", " ").Replace(message)), " ")
	return at.Format(EntryTimeFormat) + " - " + flat
}

// Append adds message to the task's log. The write stamps last_updated only and is
// not itself audited.
func (m Manager) Append(ctx context.Context, taskID, message string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.report(ctx, taskID, fmt.Errorf("panic: %v", r))
			outcome = OutcomeFailed
		}
	}()
	if m.Store == nil {
		m.report(ctx, taskID, fmt.Errorf("no store configured"))
		return OutcomeFailed
	}
	at := m.now()
	entry := FormatEntry(at, message)
	err := m.Store.Mutate(ctx, store.Tasks, taskID, func(rec store.Record) (store.Record, error) {
		var next string
		next, outcome = Compose(rec[domain.FieldInteractionLog], entry, m.Limits)
		return store.Record{
			domain.FieldInteractionLog: next,
			domain.FieldLastUpdated:    at.UTC().Format(time.RFC3339),
		}, nil
	})
	if err != nil {
		m.report(ctx, taskID, err)
		return OutcomeFailed
	}
	return outcome
}

func (m Manager) report(ctx context.Context, taskID string, err error) {
	if m.Diagnostics == nil {
		log.Printf("auditlog: task %s: %v", taskID, err)
		return
	}
	m.Diagnostics.Report(ctx, "auditlog", taskID, err)
}

// StoreDiagnostics logs failures and records them in the errors collection.
type StoreDiagnostics struct {
	Store  store.Store
	Logger *log.Logger
	Now    func() time.Time
}

func (d StoreDiagnostics) Report(ctx context.Context, source, taskID string, err error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("%s: task %s: %v", source, taskID, err)
	if d.Store == nil {
		return
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	if _, appendErr := d.Store.Append(ctx, store.Errors, store.Record{
		"ts":      now().UTC().Format(time.RFC3339),
		"source":  source,
		"task_id": taskID,
		"message": err.Error(),
	}); appendErr != nil {
		logger.Printf("%s: record error: %v", source, appendErr)
	}
}

// ReportOnce is Report for failures that recur on every pass over the same data,
// such as a broken stored workflow. A failure already recorded with the same
// source, task and message is not recorded again.
func (d StoreDiagnostics) ReportOnce(ctx context.Context, source, taskID string, err error) {
	if d.Store != nil {
		msg := err.Error()
		rows, findErr := d.Store.Find(ctx, store.Errors, func(r store.Record) bool {
			return r["source"] == source && r["task_id"] == taskID && r["message"] == msg
		})
		if findErr == nil && len(rows) > 0 {
			return
		}
	}
	d.Report(ctx, source, taskID, err)
}
