// Package opensearch indexes lifecycle history documents over the OpenSearch
// (or Elasticsearch) REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/craftvisor/internal/history"
)

// Config describes the cluster. Index may embed a time layout in braces,
// e.g. "craftvisor-{2006.01.02}" for daily indices.
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
	Client   *http.Client
}

type Sink struct {
	cfg    Config
	client *http.Client
}

func New(c Config) (*Sink, error) {
	c.URL = strings.TrimRight(c.URL, "/")
	if c.URL == "" {
		return nil, errors.New("opensearch URL is required")
	}
	if c.Index == "" {
		c.Index = "server-history"
	}
	if lb, rb := strings.IndexByte(c.Index, '{'), strings.IndexByte(c.Index, '}'); (lb < 0) != (rb < 0) || rb < lb {
		return nil, fmt.Errorf("unbalanced time layout in index %q", c.Index)
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Sink{cfg: c, client: client}, nil
}

// IndexFor returns the concrete index an event at t is written to.
func (s *Sink) IndexFor(t time.Time) string {
	return s.expand(func(layout string) string { return t.UTC().Format(layout) })
}

func (s *Sink) pattern() string {
	return s.expand(func(string) string { return "*" })
}

func (s *Sink) expand(f func(layout string) string) string {
	i := strings.IndexByte(s.cfg.Index, '{')
	if i < 0 {
		return s.cfg.Index
	}
	j := strings.IndexByte(s.cfg.Index, '}')
	return s.cfg.Index[:i] + f(s.cfg.Index[i+1:j]) + s.cfg.Index[j+1:]
}

// docID makes re-sending the same event overwrite instead of duplicate.
func docID(e history.Event) string {
	return fmt.Sprintf("%s-%d-%s-%d", e.Record.Server, e.Record.Run, e.Type, e.OccurredAt.UnixNano())
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.cfg.URL, url.PathEscape(s.IndexFor(e.OccurredAt)), url.PathEscape(docID(e)))
	resp, err := s.do(ctx, http.MethodPut, u, b)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source history.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// List searches every index matching the configured name, newest first.
// limit <= 0 means 100.
func (s *Sink) List(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q, _ := json.Marshal(map[string]any{
		"size": limit,
		"sort": []any{map[string]any{"occurred_at": map[string]string{"order": "desc"}}},
	})
	u := fmt.Sprintf("%s/%s/_search?ignore_unavailable=true", s.cfg.URL, url.PathEscape(s.pattern()))
	resp, err := s.do(ctx, http.MethodPost, u, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode opensearch response: %w", err)
	}
	out := make([]history.Event, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (s *Sink) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("opensearch status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
