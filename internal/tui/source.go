package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Snapshot is one poll of a running server.
type Snapshot struct {
	Stats  orchestrator.Statistics
	Active []*models.Task
	Agents []*models.Agent
}

// Source produces snapshots for the dashboard.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// HTTPSource polls the conductor HTTP API.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource creates a source for the server at baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Fetch reads stats, active tasks, and agents.
func (s *HTTPSource) Fetch(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := s.get(ctx, "/api/stats", &snap.Stats); err != nil {
		return nil, err
	}
	if err := s.get(ctx, "/api/tasks/active", &snap.Active); err != nil {
		return nil, err
	}
	if err := s.get(ctx, "/api/agents", &snap.Agents); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
