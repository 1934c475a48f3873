package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"taskdesk/internal/db"
	"taskdesk/internal/migrate"
	"taskdesk/internal/store"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(conn)
}

func TestAppendGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.Append(ctx, store.Tasks, store.Record{"task_id": "t1", "name": "Draft memo", "status": "not_started"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	rec, err := s.Get(ctx, store.Tasks, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec["name"] != "Draft memo" || rec["priority"] != "medium" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if err := s.Update(ctx, store.Tasks, "t1", store.Record{"status": "in_progress", "progress": "half"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _ = s.Get(ctx, store.Tasks, "t1")
	if rec["status"] != "in_progress" || rec["progress"] != "half" {
		t.Fatalf("update not applied: %v", rec)
	}
}

func TestUpdateRejectsUnknownFieldsAndMissingKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.Append(ctx, store.Tasks, store.Record{"task_id": "t1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Update(ctx, store.Tasks, "t1", store.Record{"colour": "red"}); !errors.Is(err, store.ErrUnknownField) {
		t.Fatalf("expected unknown field, got %v", err)
	}
	if err := s.Update(ctx, store.Tasks, "t1", store.Record{"task_id": "t2"}); !errors.Is(err, store.ErrUnknownField) {
		t.Fatalf("key rewrite should be rejected, got %v", err)
	}
	if err := s.Update(ctx, store.Tasks, "missing", store.Record{"name": "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.Get(ctx, store.Tasks, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestErrorsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.Append(ctx, store.Errors, store.Record{"source": "audit", "message": "boom"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected row id, got %d", id)
	}
	if err := s.Update(ctx, store.Errors, "1", store.Record{"message": "edited"}); !errors.Is(err, store.ErrAppendOnly) {
		t.Fatalf("expected append-only error, got %v", err)
	}
	rows, err := s.Find(ctx, store.Errors, nil)
	if err != nil || len(rows) != 1 || rows[0]["message"] != "boom" {
		t.Fatalf("unexpected errors rows: %v %v", rows, err)
	}
}

func TestFindKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, email := range []string{"z@x.io", "a@x.io", "m@x.io"} {
		if _, err := s.Append(ctx, store.Staff, store.Record{"email": email, "name": email}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	rows, err := s.Find(ctx, store.Staff, func(r store.Record) bool { return r["email"] != "a@x.io" })
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 2 || rows[0]["email"] != "z@x.io" || rows[1]["email"] != "m@x.io" {
		t.Fatalf("unexpected order: %v", rows)
	}
}

func TestBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Append(ctx, store.Staff, store.Record{"email": "a@x.io"})
	s.Append(ctx, store.Projects, store.Record{"project_tag": "ops"})
	err := s.Batch(ctx,
		store.Change{Coll: store.Staff, Key: "a@x.io", Fields: store.Record{"project_tags": "ops"}},
		store.Change{Coll: store.Projects, Key: "nope", Fields: store.Record{"team_members": "a@x.io"}},
	)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	rec, _ := s.Get(ctx, store.Staff, "a@x.io")
	if rec["project_tags"] != "" {
		t.Fatalf("batch partially applied: %v", rec)
	}
}

func TestMutateSerializesReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Append(ctx, store.Tasks, store.Record{"task_id": "t1"})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Mutate(ctx, store.Tasks, "t1", func(r store.Record) (store.Record, error) {
				return store.Record{"interaction_log": r["interaction_log"] + "x"}, nil
			})
			if err != nil {
				t.Errorf("mutate: %v", err)
			}
		}()
	}
	wg.Wait()
	rec, _ := s.Get(ctx, store.Tasks, "t1")
	if len(rec["interaction_log"]) != 20 {
		t.Fatalf("lost updates: %q", rec["interaction_log"])
	}
}
