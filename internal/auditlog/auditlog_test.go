package auditlog

import (
	"context"
	"fmt"
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

func fixedNow() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

func TestComposeAppendsWithoutDedup(t *testing.T) {
	entry := FormatEntry(fixedNow(), "pinged")
	once, outcome := Compose("", entry, DefaultLimits())
	if outcome != OutcomeAppended || once != "2024-05-06 07:08:09 - pinged" {
		t.Fatalf("unexpected first append: %q %s", once, outcome)
	}
	twice, _ := Compose(once, entry, DefaultLimits())
	if twice != once+"\n"+entry {
		t.Fatalf("expected second copy, got %q", twice)
	}
}

func TestRepeatedAppendStaysUnderCeilingAndKeepsThreadID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.Append(ctx, store.Tasks, store.Record{"task_id": "t1"}); err != nil {
		t.Fatalf("append task: %v", err)
	}
	m := Manager{Store: s, Limits: Limits{MaxChars: 4000, KeepLines: 20, EmergencyKeepLines: 10}, Now: fixedNow}
	if got := m.Append(ctx, "t1", "Sent assignment. Thread ID: T1"); got != OutcomeAppended {
		t.Fatalf("first append: %s", got)
	}
	compacted := false
	for i := 0; i < 200; i++ {
		if m.Append(ctx, "t1", fmt.Sprintf("follow-up note %03d with some padding text", i)) == OutcomeCompacted {
			compacted = true
		}
	}
	if !compacted {
		t.Fatalf("expected compaction to trigger")
	}
	rec, err := s.Get(ctx, store.Tasks, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	logText := rec["interaction_log"]
	if n := len([]rune(logText)); n > 4000 {
		t.Fatalf("log over ceiling: %d", n)
	}
	if n := countLines(logText, "[Preserved] Thread ID: T1"); n != 1 {
		t.Fatalf("expected one preserved thread id line, got %d:\n%s", n, logText)
	}
	if !strings.Contains(logText, "[Log truncated: kept last") {
		t.Fatalf("missing truncation notice")
	}
	if rec["last_updated"] != "2024-05-06T07:08:09Z" {
		t.Fatalf("last_updated not stamped: %q", rec["last_updated"])
	}
}

func TestCompactionSkipsTokensStillInTail(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, strings.Repeat("x", 50))
	}
	lines = append(lines, "reply Message ID: M9")
	current := strings.Join(lines, "\n")
	got, outcome := Compose(current, "new", Limits{MaxChars: 1200, KeepLines: 5, EmergencyKeepLines: 5})
	if outcome != OutcomeCompacted {
		t.Fatalf("expected compaction, got %s", outcome)
	}
	if strings.Contains(got, "[Preserved]") {
		t.Fatalf("token already in tail should not be re-preserved:\n%s", got)
	}
	if !strings.Contains(got, "preserved 0 correlation IDs") {
		t.Fatalf("unexpected notice:\n%s", got)
	}
}

func countLines(text, want string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if line == want {
			n++
		}
	}
	return n
}

func TestCompactionTrimsSentencePeriodFromTokens(t *testing.T) {
	lines := []string{
		"2024-01-01 00:00:00 - Reply classified as delay. Pushing to Friday. Thread ID: T1. Message ID: <a.b@mail.io>.",
		"2024-01-01 00:05:00 - Sent follow-up. Thread ID: T1",
	}
	for i := 0; i < 400; i++ {
		lines = append(lines, fmt.Sprintf("2024-01-01 00:00:00 - line %03d %s", i, strings.Repeat("y", 40)))
	}
	got, outcome := Compose(strings.Join(lines, "\n"), "new", Limits{MaxChars: 20000, KeepLines: 150, EmergencyKeepLines: 100})
	if outcome != OutcomeCompacted {
		t.Fatalf("expected compaction, got %s", outcome)
	}
	if n := countLines(got, "[Preserved] Thread ID: T1"); n != 1 {
		t.Fatalf("expected one preserved thread id, got %d:\n%s", n, got)
	}
	if n := countLines(got, "[Preserved] Message ID: <a.b@mail.io>"); n != 1 {
		t.Fatalf("expected message id with inner dots kept, got %d:\n%s", n, got)
	}
	if strings.Contains(got, "T1.") {
		t.Fatalf("sentence period leaked into a token:\n%s", got)
	}
	if !strings.Contains(got, "preserved 2 correlation IDs") {
		t.Fatalf("unexpected notice:\n%s", got)
	}
}

func TestEmergencyTruncationBounds(t *testing.T) {
	lim := DefaultLimits()
	var lines []string
	lines = append(lines, "2024-01-01 00:00:00 - opened Thread ID: T1")
	for i := 0; i < 300; i++ {
		lines = append(lines, fmt.Sprintf("2024-01-01 00:00:00 - line %03d %s", i, strings.Repeat("y", 60)))
	}
	current := strings.Join(lines, "\n")
	entry := FormatEntry(fixedNow(), strings.Repeat("z", 43000))

	got, outcome := Compose(current, entry, lim)
	if outcome != OutcomeEmergency {
		t.Fatalf("expected emergency path, got %s", outcome)
	}
	if n := len([]rune(got)); n > lim.MaxChars {
		t.Fatalf("over ceiling: %d", n)
	}
	out := strings.Split(got, "\n")
	if len(out) > lim.EmergencyKeepLines+2 {
		t.Fatalf("kept %d lines", len(out))
	}
	if out[len(out)-1] != entry {
		t.Fatalf("new entry must be last")
	}
	if !strings.HasPrefix(out[len(out)-2], "[Emergency truncation:") {
		t.Fatalf("missing emergency notice: %q", out[len(out)-2])
	}
	if countLines(got, "[Preserved] Thread ID: T1") != 1 {
		t.Fatalf("thread id dropped in emergency path")
	}
}

func TestEmergencyClipsOversizedEntry(t *testing.T) {
	lim := Limits{MaxChars: 500, KeepLines: 10, EmergencyKeepLines: 5}
	got, outcome := Compose("short line", FormatEntry(fixedNow(), strings.Repeat("q", 2000)), lim)
	if outcome != OutcomeEmergency {
		t.Fatalf("expected emergency, got %s", outcome)
	}
	if n := len([]rune(got)); n > lim.MaxChars {
		t.Fatalf("over ceiling: %d", n)
	}
	if !strings.HasSuffix(got, clipMarker) {
		t.Fatalf("expected clipped entry")
	}
}

func TestCeilingCountsRunes(t *testing.T) {
	lim := Limits{MaxChars: 30, KeepLines: 5, EmergencyKeepLines: 5}
	got, outcome := Compose("", "ééééééééééééééééééééé", lim)
	if outcome != OutcomeAppended || got == "" {
		t.Fatalf("21 runes should fit under 30 even though they are 42 bytes: %s", outcome)
	}
}

type recordingDiagnostics struct{ errs []error }

func (r *recordingDiagnostics) Report(_ context.Context, _, _ string, err error) {
	r.errs = append(r.errs, err)
}

func TestAppendOnMissingTaskNeverFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	diag := &recordingDiagnostics{}
	m := Manager{Store: s, Now: fixedNow, Diagnostics: diag}
	if got := m.Append(ctx, "missing", "hello"); got != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", got)
	}
	if len(diag.errs) != 1 {
		t.Fatalf("expected one diagnostic, got %v", diag.errs)
	}
}

func TestStoreDiagnosticsRecordsErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := Manager{Store: s, Now: fixedNow, Diagnostics: StoreDiagnostics{Store: s, Now: fixedNow}}
	m.Append(ctx, "ghost", "hello")
	rows, err := s.Find(ctx, store.Errors, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 1 || rows[0]["task_id"] != "ghost" || rows[0]["source"] != "auditlog" {
		t.Fatalf("unexpected error rows: %v", rows)
	}
}

func TestReportOnceSkipsRecordedFailures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := StoreDiagnostics{Store: s, Now: fixedNow}
	for i := 0; i < 3; i++ {
		d.ReportOnce(ctx, "workflow", "", fmt.Errorf("skipping broken: bad yaml"))
	}
	d.ReportOnce(ctx, "workflow", "", fmt.Errorf("skipping other: bad yaml"))
	rows, err := s.Find(ctx, store.Errors, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one row per distinct failure, got %d: %v", len(rows), rows)
	}
}
