package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type nopMessenger struct{}

func (nopMessenger) SendAssignmentNotice(context.Context, string) error { return nil }
func (nopMessenger) SendFollowUp(context.Context, string) error         { return nil }
func (nopMessenger) SendEscalation(context.Context, string) error       { return nil }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	e.SetMessenger(nopMessenger{})
	if _, err := e.SeedWorkflows(context.Background(), cfg.Workflows); err != nil {
		t.Fatalf("seed workflows: %v", err)
	}
	if auth.JWTSecret == "" {
		auth.JWTSecret = testSecret
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func mintToken(t *testing.T, subject, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func bearer(t *testing.T, subject string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + mintToken(t, subject, testSecret)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error envelope: %s", body)
	}
	wrong := map[string]string{"Authorization": "Bearer " + mintToken(t, "alice", "other-secret")}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, wrong)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", res.StatusCode)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, bearer(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", res.StatusCode, body)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	hdr := bearer(t, "exec@corp.io")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/staff", map[string]any{
		"email": "anaaya@corp.io", "name": "Anaaya Udhas",
	}, hdr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create staff: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/staff", map[string]any{
		"email": "anaaya@corp.io", "name": "Again",
	}, hdr)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"name": "Prepare board pack", "assignee": "anaya", "priority": "low",
	}, hdr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, body)
	}
	var created engine.TaskCreateResult
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Task.Assignee != "anaaya@corp.io" || created.Task.Status != domain.StatusNotStarted {
		t.Fatalf("unexpected task: %+v", created.Task)
	}
	id := created.Task.ID

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+id+"/status", map[string]any{"status": "blocked"}, hdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("change status: %d %s", res.StatusCode, body)
	}
	var changed engine.StatusChangeResult
	_ = json.Unmarshal(body, &changed)
	if changed.Task.Status != domain.StatusOnHold || changed.Task.Priority != "high" {
		t.Fatalf("expected escalation workflow effects, got %+v", changed.Task)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+id+"/status", map[string]any{"status": "someday"}, hdr)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+id, map[string]any{"progress": "50%"}, hdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+id+"/replies", map[string]any{
		"category": "completion", "thread_id": "T1",
	}, hdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reply: %d %s", res.StatusCode, body)
	}
	var replied engine.ReplyResult
	_ = json.Unmarshal(body, &replied)
	if replied.Task.Status != domain.StatusPendingApproval || !strings.Contains(replied.Task.InteractionLog, "Thread ID: T1") {
		t.Fatalf("unexpected reply result: %+v", replied.Task)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/missing", nil, hdr)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=task&limit=2", nil, hdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, body)
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with cursor: %s", body)
	}
}

func TestLinkAndResolveOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowAnonymous: true})
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/staff", map[string]any{"email": "john@corp.io", "name": "John Park"}, nil)
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"project_tag": "bd", "project_name": "Board Deck"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPut, srv.URL+"/v0/staff/john@corp.io/projects/bd", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("link: %d %s", res.StatusCode, body)
	}
	var link LinkResponse
	_ = json.Unmarshal(body, &link)
	if len(link.Staff.ProjectTags) != 1 || len(link.Project.TeamMembers) != 1 {
		t.Fatalf("expected both sides linked: %+v", link)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/resolve/staff?q=jo", nil, nil)
	var resolved ResolveResponse
	_ = json.Unmarshal(body, &resolved)
	if res.StatusCode != http.StatusOK || !resolved.Found || resolved.Match.ID != "john@corp.io" || resolved.Match.Strategy != "substring" {
		t.Fatalf("unexpected resolve: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/resolve/project?q=deck", nil, nil)
	_ = json.Unmarshal(body, &resolved)
	if !resolved.Found || resolved.Match.ID != "bd" {
		t.Fatalf("unexpected project resolve: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/staff/john@corp.io/projects/bd", nil, nil)
	_ = json.Unmarshal(body, &link)
	if res.StatusCode != http.StatusOK || len(link.Staff.ProjectTags) != 0 || len(link.Project.TeamMembers) != 0 {
		t.Fatalf("expected both sides unlinked: %d %s", res.StatusCode, body)
	}
}

func TestFireTriggerAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowAnonymous: true})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"name": "Loose end"}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, body)
	}
	var created engine.TaskCreateResult
	_ = json.Unmarshal(body, &created)

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/triggers/reply-classified", map[string]any{
		"task_id": created.Task.ID,
		"context": map[string]any{"reply": map[string]any{"category": "completion"}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fire: %d %s", res.StatusCode, body)
	}
	var fired TriggerResponse
	_ = json.Unmarshal(body, &fired)
	if len(fired.Workflows) != 1 || fired.Workflows[0].WorkflowID != "wf-reply-completed" {
		t.Fatalf("unexpected workflows: %s", body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflows", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "wf-escalate-blocked") {
		t.Fatalf("list workflows: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "bearerAuth") || !strings.Contains(string(body), "/v0/tasks/{id}/replies") {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}
