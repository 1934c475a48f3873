package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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

func TestWebhookDeliversNotice(t *testing.T) {
	var (
		got     Notice
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx := context.Background()
	s := newTestStore(t)
	s.Append(ctx, store.Tasks, store.Record{
		"task_id": "t1", "name": "Board deck", "assignee": "priya@corp.io", "due_date": "2024-07-01", "project_tag": "bd", "status": "not_started",
	})
	n := Notifier{
		Store:     s,
		Transport: Webhook{URL: srv.URL, Secret: "shh"},
		Now:       func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
	if err := n.SendAssignmentNotice(ctx, "t1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Kind != KindAssignment || got.TaskName != "Board deck" || got.Assignee != "priya@corp.io" || got.SentAt != "2024-06-01T00:00:00Z" {
		t.Fatalf("unexpected notice: %+v", got)
	}
	if headers.Get("X-Taskdesk-Notice") != KindAssignment || headers.Get("X-Taskdesk-Secret") != "shh" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	if headers.Get("X-Taskdesk-Delivery") == "" || headers.Get("X-Taskdesk-Delivery") != got.DeliveryID {
		t.Fatalf("delivery id mismatch")
	}
}

func TestWebhookNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := Webhook{URL: srv.URL}.Deliver(context.Background(), Notice{Kind: KindFollowUp})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

type captured struct{ notices []Notice }

func (c *captured) Deliver(_ context.Context, n Notice) error {
	c.notices = append(c.notices, n)
	return nil
}

func TestNotifierRules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Append(ctx, store.Tasks, store.Record{"task_id": "t1", "name": "Unowned"})
	sink := &captured{}
	n := Notifier{Store: s, Transport: sink}
	if err := n.SendAssignmentNotice(ctx, "t1"); err == nil {
		t.Fatalf("assignment without assignee should fail")
	}
	if err := n.SendFollowUp(ctx, "missing"); err == nil {
		t.Fatalf("missing task should fail")
	}
	if err := n.SendEscalation(ctx, "t1"); err != nil {
		t.Fatalf("escalation without assignee should go out: %v", err)
	}
	if len(sink.notices) != 1 || sink.notices[0].Kind != KindEscalation {
		t.Fatalf("unexpected notices: %+v", sink.notices)
	}
	if err := (LogOnly{}).Deliver(ctx, sink.notices[0]); err != nil {
		t.Fatalf("log only: %v", err)
	}
}
