package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Llama is the llama.cpp admin service.
type Llama struct {
	c *Client
}

func NewLlama(c *Client) *Llama { return &Llama{c: c} }

type LlamaHealth struct {
	Status          string `json:"status"`
	Model           string `json:"model,omitempty"`
	SlotsIdle       int    `json:"slots_idle"`
	SlotsProcessing int    `json:"slots_processing"`
}

func (l *Llama) Health(ctx context.Context) (*LlamaHealth, error) {
	var out LlamaHealth
	if err := l.c.Do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (l *Llama) Logs(ctx context.Context, lines int) ([]string, error) {
	q := url.Values{}
	if lines > 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	var out struct {
		Lines []string `json:"lines"`
	}
	err := l.c.Do(ctx, http.MethodGet, "/logs", q, nil, &out)
	return out.Lines, err
}
