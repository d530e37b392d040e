package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Graphiti is the knowledge-graph service.
type Graphiti struct {
	c *Client
}

func NewGraphiti(c *Client) *Graphiti { return &Graphiti{c: c} }

type Fact struct {
	UUID       string     `json:"uuid"`
	Name       string     `json:"name"`
	Fact       string     `json:"fact"`
	SourceUUID string     `json:"source_node_uuid,omitempty"`
	TargetUUID string     `json:"target_node_uuid,omitempty"`
	ValidAt    *time.Time `json:"valid_at,omitempty"`
	InvalidAt  *time.Time `json:"invalid_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type SearchRequest struct {
	GroupIDs []string `json:"group_ids"`
	Query    string   `json:"query"`
	MaxFacts int      `json:"max_facts,omitempty"`
}

type Episode struct {
	UUID              string    `json:"uuid"`
	Name              string    `json:"name"`
	GroupID           string    `json:"group_id"`
	Content           string    `json:"content"`
	Source            string    `json:"source"`
	SourceDescription string    `json:"source_description,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ValidAt           time.Time `json:"valid_at"`
}

type IngestMessage struct {
	Content           string    `json:"content"`
	RoleType          string    `json:"role_type"`
	Role              string    `json:"role,omitempty"`
	Name              string    `json:"name,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	SourceDescription string    `json:"source_description,omitempty"`
}

type AddMessagesRequest struct {
	GroupID  string          `json:"group_id"`
	Messages []IngestMessage `json:"messages"`
}

type Entity struct {
	UUID       string         `json:"uuid"`
	Name       string         `json:"name"`
	GroupID    string         `json:"group_id"`
	Labels     []string       `json:"labels,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type EntityInput struct {
	GroupID    string         `json:"group_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type EntityFilter struct {
	Label  string
	Query  string
	Cursor string
	Limit  int
}

type Session struct {
	ID           string    `json:"session_id"`
	GroupID      string    `json:"group_id"`
	ProjectName  string    `json:"project_name,omitempty"`
	EpisodeCount int       `json:"episode_count"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}

type Project struct {
	Name         string    `json:"project_name"`
	GroupID      string    `json:"group_id"`
	SessionCount int       `json:"session_count"`
	EpisodeCount int       `json:"episode_count"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// DayBucket is one day of session activity.
type DayBucket struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Sessions int    `json:"sessions"`
	Episodes int    `json:"episodes"`
}

type Group struct {
	GroupID      string `json:"group_id"`
	EpisodeCount int    `json:"episode_count"`
	EntityCount  int    `json:"entity_count"`
}

type QueueStatus struct {
	GroupID    string `json:"group_id"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
}

func (g *Graphiti) Search(ctx context.Context, req SearchRequest) ([]Fact, error) {
	var out struct {
		Facts []Fact `json:"facts"`
	}
	err := g.c.Do(ctx, http.MethodPost, "/search", nil, req, &out)
	return out.Facts, err
}

// ListEpisodes returns the lastN most recent episodes of a group.
func (g *Graphiti) ListEpisodes(ctx context.Context, groupID string, lastN int) ([]Episode, error) {
	q := url.Values{}
	if lastN > 0 {
		q.Set("last_n", strconv.Itoa(lastN))
	}
	var out []Episode
	err := g.c.Do(ctx, http.MethodGet, "/episodes/"+seg(groupID), q, nil, &out)
	return out, err
}

func (g *Graphiti) DeleteEpisode(ctx context.Context, uuid string) error {
	return g.c.Do(ctx, http.MethodDelete, "/episode/"+seg(uuid), nil, nil, nil)
}

// AddMessages queues messages for ingestion. Processing is asynchronous;
// queue_status and episode_created events report progress.
func (g *Graphiti) AddMessages(ctx context.Context, req AddMessagesRequest) error {
	return g.c.Do(ctx, http.MethodPost, "/messages", nil, req, nil)
}

func (g *Graphiti) ListEntities(ctx context.Context, groupID string, f EntityFilter) (Page[Entity], error) {
	q := url.Values{"group_id": {groupID}}
	if f.Label != "" {
		q.Set("label", f.Label)
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	setPaging(q, f.Cursor, f.Limit)
	var out Page[Entity]
	err := g.c.Do(ctx, http.MethodGet, "/entities", q, nil, &out)
	return out, err
}

func (g *Graphiti) GetEntity(ctx context.Context, uuid string) (*Entity, error) {
	var out Entity
	if err := g.c.Do(ctx, http.MethodGet, "/entities/"+seg(uuid), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Graphiti) CreateEntity(ctx context.Context, in EntityInput) (*Entity, error) {
	var out Entity
	if err := g.c.Do(ctx, http.MethodPost, "/entities", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Graphiti) UpdateEntity(ctx context.Context, uuid string, in EntityInput) (*Entity, error) {
	var out Entity
	if err := g.c.Do(ctx, http.MethodPatch, "/entities/"+seg(uuid), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Graphiti) DeleteEntity(ctx context.Context, uuid string) error {
	return g.c.Do(ctx, http.MethodDelete, "/entities/"+seg(uuid), nil, nil, nil)
}

// EntityRelationships returns the facts (edges) touching an entity.
func (g *Graphiti) EntityRelationships(ctx context.Context, uuid string) ([]Fact, error) {
	var out []Fact
	err := g.c.Do(ctx, http.MethodGet, "/entities/"+seg(uuid)+"/relationships", nil, nil, &out)
	return out, err
}

func (g *Graphiti) ListSessions(ctx context.Context, groupID, cursor string, limit int) (Page[Session], error) {
	q := url.Values{"group_id": {groupID}}
	setPaging(q, cursor, limit)
	var out Page[Session]
	err := g.c.Do(ctx, http.MethodGet, "/sessions", q, nil, &out)
	return out, err
}

func (g *Graphiti) ListProjects(ctx context.Context, groupID, cursor string, limit int) (Page[Project], error) {
	q := url.Values{"group_id": {groupID}}
	setPaging(q, cursor, limit)
	var out Page[Project]
	err := g.c.Do(ctx, http.MethodGet, "/projects", q, nil, &out)
	return out, err
}

// SessionStats returns per-day activity for the last days days.
func (g *Graphiti) SessionStats(ctx context.Context, groupID string, days int) ([]DayBucket, error) {
	q := url.Values{"group_id": {groupID}}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var out []DayBucket
	err := g.c.Do(ctx, http.MethodGet, "/sessions/stats", q, nil, &out)
	return out, err
}

func (g *Graphiti) ListGroups(ctx context.Context) ([]Group, error) {
	var out []Group
	err := g.c.Do(ctx, http.MethodGet, "/groups", nil, nil, &out)
	return out, err
}

func (g *Graphiti) QueueStatus(ctx context.Context, groupID string) (*QueueStatus, error) {
	var out QueueStatus
	if err := g.c.Do(ctx, http.MethodGet, "/queue/status", url.Values{"group_id": {groupID}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthcheck reports the server's own status string ("healthy").
func (g *Graphiti) Healthcheck(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := g.c.Do(ctx, http.MethodGet, "/healthcheck", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func setPaging(q url.Values, cursor string, limit int) {
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
}
