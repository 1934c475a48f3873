package taskdesksdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsBearerAndDecodes(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"task":{"task_id":"t1","name":"Deck","status":"not_started"},"assignee_match":{"id":"a@corp.io","strategy":"similarity","score":0.9},"workflows":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	res, err := c.CreateTask(context.Background(), NewTask{Name: "Deck", Assignee: "anaya"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotAuth != "Bearer tok" || gotPath != "/v0/tasks" {
		t.Fatalf("unexpected request: auth=%q path=%q", gotAuth, gotPath)
	}
	if gotBody["assignee"] != "anaya" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	if res.Task.ID != "t1" || res.AssigneeMatch == nil || res.AssigneeMatch.Strategy != "similarity" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"not_found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetTask(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected APIError 404, got %v", err)
	}
}
