package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"taskdesk/internal/auditlog"
	"taskdesk/internal/config"
	"taskdesk/internal/events"
	"taskdesk/internal/messaging"
	"taskdesk/internal/resolver"
	"taskdesk/internal/rules"
	"taskdesk/internal/store"
)

var (
	ErrInvalid  = errors.New("invalid input")
	ErrConflict = errors.New("already exists")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Engine is the orchestrator: it owns task lifecycle, staff and project records, and
// fires triggers into the rule engine.
type Engine struct {
	DB       *sql.DB
	Store    store.Store
	Events   events.Writer
	Config   *config.Config
	Resolver resolver.Resolver
	Audit    auditlog.Manager
	Rules    rules.Engine
	Queue    rules.StoreQueue
	Now      func() time.Time
	Logger   *log.Logger
}

// New wires the engine and its collaborators over an open, migrated database.
func New(db *sql.DB, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		DB:     db,
		Store:  store.New(db),
		Config: cfg,
		Now:    time.Now,
	}
	clock := func() time.Time { return e.now() }
	e.Events = events.Writer{DB: db, Now: clock}
	e.Resolver = resolver.Resolver{
		Store:   e.Store,
		Options: resolver.Options{Threshold: cfg.Resolver.SimilarityThreshold, DeletionVariants: cfg.Resolver.DeletionVariants},
	}
	diag := auditlog.StoreDiagnostics{Store: e.Store, Now: clock}
	e.Audit = auditlog.Manager{
		Store: e.Store,
		Limits: auditlog.Limits{
			MaxChars:           cfg.Audit.MaxChars,
			KeepLines:          cfg.Audit.KeepLines,
			EmergencyKeepLines: cfg.Audit.EmergencyKeepLines,
		},
		Now:         clock,
		Diagnostics: diag,
	}
	e.Queue = rules.StoreQueue{
		Store:       e.Store,
		Now:         clock,
		MaxAttempts: cfg.Actions.MaxAttempts,
		OnInvalid: func(id string, err error) {
			diag.Report(context.Background(), "pending_action", "", err)
		},
	}
	e.Rules = rules.Engine{
		Source: rules.StoreSource{
			Store: e.Store,
			OnInvalid: func(id string, err error) {
				diag.ReportOnce(context.Background(), "workflow", "", fmt.Errorf("skipping %s: %w", id, err))
			},
		},
		Deps: rules.Deps{
			Tasks:     e,
			Messenger: messaging.Notifier{Store: e.Store, Transport: transportFor(cfg.Messaging), Now: clock},
			Audit:     e.Audit,
			Staff:     e.Resolver,
		},
		Queue:     e.Queue,
		DelayMode: cfg.Actions.DelayMode,
		Events:    e.Events,
		Now:       clock,
	}
	return e
}

func transportFor(mc config.MessagingConfig) messaging.Transport {
	if mc.Mode == config.MessagingWebhook {
		return messaging.Webhook{
			URL:     mc.URL,
			Secret:  mc.Secret,
			Timeout: time.Duration(mc.TimeoutSeconds) * time.Second,
		}
	}
	return messaging.LogOnly{}
}

// SetMessenger swaps the messaging collaborator used by actions.
func (e *Engine) SetMessenger(m rules.Messenger) {
	e.Rules.Deps.Messenger = m
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *Engine) record(ctx context.Context, evtType, kind, id, actorID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, kind, id, actorID, payload); err != nil {
		e.logger().Printf("engine: record %s: %v", evtType, err)
	}
}

// fire runs a trigger. Rule failures never fail the operation that caused them.
func (e *Engine) fire(ctx context.Context, trigger string, evt rules.Context) []rules.WorkflowReport {
	reports, err := e.Rules.EvaluateAndRun(ctx, trigger, evt)
	if err != nil {
		e.logger().Printf("engine: trigger %s: %v", trigger, err)
		return nil
	}
	return reports
}

// Fire evaluates an arbitrary trigger. When the event names a task, the stored task
// is merged in under "task".
func (e *Engine) Fire(ctx context.Context, trigger string, evt rules.Context) ([]rules.WorkflowReport, error) {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		return nil, invalidf("trigger is required")
	}
	if evt == nil {
		evt = rules.Context{}
	}
	if id := rules.TaskIDFrom(evt); id != "" {
		task, err := e.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		merged := taskContext(task)
		if extra, ok := evt["task"].(map[string]any); ok {
			for k, v := range extra {
				merged[k] = v
			}
		}
		evt["task"] = merged
	}
	return e.Rules.EvaluateAndRun(ctx, trigger, evt)
}

// RunDue executes delayed actions that have come due.
func (e *Engine) RunDue(ctx context.Context) ([]rules.DueResult, error) {
	return e.Rules.RunDue(ctx)
}

// PendingActions lists queued delayed actions, optionally filtered by status.
func (e *Engine) PendingActions(ctx context.Context, status string) ([]rules.PendingAction, error) {
	return e.Queue.List(ctx, status)
}

// Poller returns a poller for delayed actions at the configured interval.
func (e *Engine) Poller() rules.Poller {
	return rules.Poller{
		Engine:   e.Rules,
		Interval: time.Duration(e.Config.Actions.PollIntervalSeconds) * time.Second,
		Logger:   e.Logger,
	}
}
