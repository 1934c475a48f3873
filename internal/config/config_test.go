package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Audit.MaxChars != 45000 || cfg.Audit.KeepLines != 150 || cfg.Audit.EmergencyKeepLines != 100 {
		t.Fatalf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if cfg.Resolver.SimilarityThreshold != 0.7 {
		t.Fatalf("unexpected threshold %v", cfg.Resolver.SimilarityThreshold)
	}
	if cfg.Actions.DelayMode != DelayModeQueue {
		t.Fatalf("expected queue delay mode, got %s", cfg.Actions.DelayMode)
	}
	if len(cfg.Workflows) == 0 {
		t.Fatalf("expected seed workflows")
	}
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("resolver:\n  similarity_threshold: 0.8\n  deletion_variants: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Resolver.SimilarityThreshold != 0.8 || cfg.Resolver.DeletionVariants {
		t.Fatalf("resolver section not applied: %+v", cfg.Resolver)
	}
	if cfg.Audit.MaxChars != 45000 {
		t.Fatalf("audit default lost: %+v", cfg.Audit)
	}
	if len(cfg.Workflows) != 0 {
		t.Fatalf("workflows should only come from the file, got %d", len(cfg.Workflows))
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"delay mode":    "actions:\n  delay_mode: later\n",
		"threshold":     "resolver:\n  similarity_threshold: 1.5\n",
		"webhook url":   "messaging:\n  mode: webhook\n",
		"emergency":     "audit:\n  keep_lines: 10\n  emergency_keep_lines: 20\n",
		"workflow id":   "workflows:\n  - trigger: task-created\n    actions: []\n",
		"duplicate ids": "workflows:\n  - id: a\n    trigger: x\n    actions: []\n  - id: a\n    trigger: y\n    actions: []\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Actions.MaxAttempts != 3 {
		t.Fatalf("expected defaults, got %+v", cfg.Actions)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "taskdesk.yml"), []byte("actions:\n  delay_mode: advisory\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Actions.DelayMode != DelayModeAdvisory {
		t.Fatalf("expected advisory, got %s", cfg.Actions.DelayMode)
	}
}

func TestWorkflowsFromYAML(t *testing.T) {
	defs, err := WorkflowsFromYAML([]byte(`- id: wf1
  trigger: task-created
  active: "yes"
  conditions: {task.priority: urgent}
  actions:
    - type: escalate
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "wf1" || defs[0].Trigger != "task-created" {
		t.Fatalf("unexpected defs: %+v", defs)
	}
}
