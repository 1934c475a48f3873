package taskdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal taskdesk HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID               string `json:"task_id"`
	Status           string `json:"status"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Assignee         string `json:"assignee"`
	DueDate          string `json:"due_date"`
	Priority         string `json:"priority"`
	ProjectTag       string `json:"project_tag"`
	InteractionLog   string `json:"interaction_log"`
	NegotiationNotes string `json:"negotiation_notes"`
	Progress         string `json:"progress"`
	Source           string `json:"source"`
	CreatedAt        string `json:"created_at"`
	LastUpdated      string `json:"last_updated"`
}

// NewTask holds the fields accepted when creating a task.
type NewTask struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Project     string `json:"project,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Source      string `json:"source,omitempty"`
}

type Match struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Strategy string  `json:"strategy"`
	Score    float64 `json:"score"`
}

type ActionResult struct {
	Type      string `json:"type"`
	Executed  bool   `json:"executed"`
	Error     string `json:"error,omitempty"`
	Scheduled bool   `json:"scheduled,omitempty"`
	DueAt     string `json:"due_at,omitempty"`
}

// WorkflowReport describes one workflow that matched a trigger.
type WorkflowReport struct {
	WorkflowID string         `json:"workflow_id"`
	Executed   bool           `json:"executed"`
	Actions    []ActionResult `json:"actions"`
}

type TaskResult struct {
	Task          Task             `json:"task"`
	AssigneeMatch *Match           `json:"assignee_match,omitempty"`
	ProjectMatch  *Match           `json:"project_match,omitempty"`
	Workflows     []WorkflowReport `json:"workflows"`
}

// Reply is a classified inbound reply.
type Reply struct {
	Category        string `json:"category"`
	Summary         string `json:"summary,omitempty"`
	From            string `json:"from,omitempty"`
	ThreadID        string `json:"thread_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	ProposedDueDate string `json:"proposed_due_date,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask creates a task; assignee and project may be free text.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ChangeStatus moves a task and returns the workflows it fired.
func (c *Client) ChangeStatus(ctx context.Context, id, status string) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/status", map[string]string{"status": status}, &resp)
	return resp, err
}

func (c *Client) ClassifyReply(ctx context.Context, id string, r Reply) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/replies", r, &resp)
	return resp, err
}

func (c *Client) AppendLog(ctx context.Context, id, message string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/log", map[string]string{"message": message}, &resp)
	return resp, err
}

// ResolveStaff asks the server to resolve a free-text name. ok is false when
// nothing matched.
func (c *Client) ResolveStaff(ctx context.Context, query string) (Match, bool, error) {
	var resp struct {
		Found bool   `json:"found"`
		Match *Match `json:"match"`
	}
	if err := c.do(ctx, http.MethodGet, "resolve/staff?q="+url.QueryEscape(query), nil, &resp); err != nil {
		return Match{}, false, err
	}
	if !resp.Found || resp.Match == nil {
		return Match{}, false, nil
	}
	return *resp.Match, true, nil
}

// Fire evaluates a trigger, optionally about a task.
func (c *Client) Fire(ctx context.Context, trigger, taskID string, evt map[string]any) ([]WorkflowReport, error) {
	body := map[string]any{"task_id": taskID, "context": evt}
	var resp struct {
		Workflows []WorkflowReport `json:"workflows"`
	}
	err := c.do(ctx, http.MethodPost, "triggers/"+url.PathEscape(trigger), body, &resp)
	return resp.Workflows, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
