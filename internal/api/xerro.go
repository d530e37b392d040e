package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/graphiti-browser/internal/chat"
)

// Xerro is the agent, scheduled-task and document service.
type Xerro struct {
	c *Client
}

func NewXerro(c *Client) *Xerro { return &Xerro{c: c} }

var _ chat.StreamingAgent = (*Xerro)(nil)

type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Prompt    string     `json:"prompt"`
	Schedule  string     `json:"schedule"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type TaskInput struct {
	Name     string `json:"name,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// Execution is one run of a scheduled task.
type Execution struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type Scratchpad struct {
	TaskID    string    `json:"taskId"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type DocumentEntry struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	IsFolder   bool      `json:"isFolder"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

type Document struct {
	Path        string         `json:"path"`
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	ModifiedAt  time.Time      `json:"modifiedAt"`
}

type DocumentHit struct {
	Path    string  `json:"path"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

type ServiceStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type ServiceHealth struct {
	Status   string          `json:"status"`
	Services []ServiceStatus `json:"services"`
}

// --- Agent ---

// Chat runs one agent turn and returns the raw response body.
func (x *Xerro) Chat(ctx context.Context, req chat.Request) (json.RawMessage, error) {
	var out json.RawMessage
	if err := x.c.Do(ctx, http.MethodPost, "/api/agent/chat", nil, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// streamLine is one NDJSON line of a streamed chat response.
type streamLine struct {
	Type    string          `json:"type"` // chunk | done | error
	Content string          `json:"content,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ChatStream runs one agent turn, calling onChunk for every text chunk, and
// returns the final body carried by the "done" line.
func (x *Xerro) ChatStream(ctx context.Context, req chat.Request, onChunk func(string)) (json.RawMessage, error) {
	const path = "/api/agent/chat/stream"
	resp, span, err := x.c.send(ctx, http.MethodPost, path, nil, req, "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	defer span.End()
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var l streamLine
		if err := json.Unmarshal(line, &l); err != nil {
			// One bad line does not end the stream.
			slog.Warn("api: skipping malformed stream line", "path", path, "error", err)
			span.AddEvent("malformed line")
			continue
		}
		switch l.Type {
		case "chunk":
			if onChunk != nil && l.Content != "" {
				onChunk(l.Content)
			}
		case "done":
			if len(l.Result) == 0 {
				return json.RawMessage(`{}`), nil
			}
			return l.Result, nil
		case "error":
			err := errors.New(l.Error)
			span.SetStatus(codes.Error, l.Error)
			return nil, fmt.Errorf("agent: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: read stream: %w", path, err)
	}
	return nil, fmt.Errorf("%s: stream ended without a result", path)
}

// --- Documents ---

func (x *Xerro) SearchDocuments(ctx context.Context, query string, limit int) ([]DocumentHit, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []DocumentHit
	err := x.c.Do(ctx, http.MethodGet, "/api/obsidian/search", q, nil, &out)
	return out, err
}

// ListDocuments lists one vault folder; "" is the vault root.
func (x *Xerro) ListDocuments(ctx context.Context, folder string) ([]DocumentEntry, error) {
	q := url.Values{}
	if folder != "" {
		q.Set("folder", folder)
	}
	var out []DocumentEntry
	err := x.c.Do(ctx, http.MethodGet, "/api/obsidian/documents", q, nil, &out)
	return out, err
}

func (x *Xerro) GetDocument(ctx context.Context, path string) (*Document, error) {
	var out Document
	if err := x.c.Do(ctx, http.MethodGet, "/api/obsidian/document", url.Values{"path": {path}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Scheduled tasks ---

func (x *Xerro) ListTasks(ctx context.Context) ([]Task, error) {
	var out []Task
	err := x.c.Do(ctx, http.MethodGet, "/api/scheduled-tasks", nil, nil, &out)
	return out, err
}

func (x *Xerro) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := x.c.Do(ctx, http.MethodGet, "/api/scheduled-tasks/"+seg(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask validates the schedule locally before sending.
func (x *Xerro) CreateTask(ctx context.Context, in TaskInput) (*Task, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("create task: name is required")
	}
	if err := ValidateSchedule(in.Schedule); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	var out Task
	if err := x.c.Do(ctx, http.MethodPost, "/api/scheduled-tasks", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (x *Xerro) UpdateTask(ctx context.Context, id string, in TaskInput) (*Task, error) {
	if in.Schedule != "" {
		if err := ValidateSchedule(in.Schedule); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
	}
	var out Task
	if err := x.c.Do(ctx, http.MethodPut, "/api/scheduled-tasks/"+seg(id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (x *Xerro) DeleteTask(ctx context.Context, id string) error {
	return x.c.Do(ctx, http.MethodDelete, "/api/scheduled-tasks/"+seg(id), nil, nil, nil)
}

// RunTask starts an execution now. Progress arrives as agent-status events.
func (x *Xerro) RunTask(ctx context.Context, id string) (*Execution, error) {
	var out Execution
	if err := x.c.Do(ctx, http.MethodPost, "/api/scheduled-tasks/"+seg(id)+"/run", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (x *Xerro) TaskHistory(ctx context.Context, id string, limit int) ([]Execution, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Execution
	err := x.c.Do(ctx, http.MethodGet, "/api/scheduled-tasks/"+seg(id)+"/history", q, nil, &out)
	return out, err
}

func (x *Xerro) TaskScratchpad(ctx context.Context, id string) (*Scratchpad, error) {
	var out Scratchpad
	if err := x.c.Do(ctx, http.MethodGet, "/api/scheduled-tasks/"+seg(id)+"/scratchpad", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (x *Xerro) RunningExecutions(ctx context.Context) ([]Execution, error) {
	var out []Execution
	err := x.c.Do(ctx, http.MethodGet, "/api/scheduled-tasks/executions/running", nil, nil, &out)
	return out, err
}

// RunningExecutionIDs adapts RunningExecutions to a presence snapshot.
func (x *Xerro) RunningExecutionIDs(ctx context.Context) ([]string, error) {
	execs, err := x.RunningExecutions(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(execs))
	for _, e := range execs {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// --- Services ---

func (x *Xerro) ServiceHealth(ctx context.Context) (*ServiceHealth, error) {
	var out ServiceHealth
	if err := x.c.Do(ctx, http.MethodGet, "/api/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (x *Xerro) ServiceLogs(ctx context.Context, service string, lines int) ([]string, error) {
	q := url.Values{}
	if lines > 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	var out struct {
		Lines []string `json:"lines"`
	}
	err := x.c.Do(ctx, http.MethodGet, "/api/services/"+seg(service)+"/logs", q, nil, &out)
	return out.Lines, err
}
