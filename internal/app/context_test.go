package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"taskdesk/internal/config"
)

func TestOpenSeedsWorkflowsOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ws, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := ws.Engine.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(first) != len(config.Default().Workflows) || len(first) == 0 {
		t.Fatalf("expected %d seeded workflows, got %d", len(config.Default().Workflows), len(first))
	}
	ws.Close()

	ws, err = Open(ctx, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ws.Close()
	again, err := ws.Engine.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(again) != len(first) {
		t.Fatalf("reopen changed workflow count: %d -> %d", len(first), len(again))
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	bad := "actions:\n  delay_mode: sometimes\n"
	if err := os.WriteFile(filepath.Join(dir, "taskdesk.yml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if ws, err := Open(context.Background(), dir); err == nil {
		ws.Close()
		t.Fatalf("expected invalid delay_mode to fail")
	}
}
