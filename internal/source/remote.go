package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
)

const maxPlanBytes = 16 << 20

// RemoteSource fetches the plan document over HTTP, for example the raw URL
// of the plan file on the repository's default branch.
type RemoteSource struct {
	url    string
	token  string
	client *http.Client
	logger *logging.Logger
}

// NewRemoteSource creates a source for url. A non-empty token is sent as a
// bearer credential.
func NewRemoteSource(url, token string, logger *logging.Logger) *RemoteSource {
	if logger == nil {
		logger = logging.Discard()
	}
	return &RemoteSource{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// WithClient replaces the HTTP client.
func (s *RemoteSource) WithClient(c *http.Client) *RemoteSource {
	if c != nil {
		s.client = c
	}
	return s
}

func (s *RemoteSource) String() string { return "remote:" + s.url }

func (s *RemoteSource) Load(ctx context.Context) (*model.TaskGraph, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", s.url, err)
	}
	req.Header.Set("Accept", "application/yaml, text/plain;q=0.9, */*;q=0.1")
	req.Header.Set("Cache-Control", "no-cache")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("fetch %s: %w", s.url, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("fetch %s: unexpected status %s", s.url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlanBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.url, err)
	}
	if len(data) > maxPlanBytes {
		return nil, fmt.Errorf("fetch %s: plan exceeds %d bytes", s.url, maxPlanBytes)
	}
	g, err := Decode(data, s.url)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("plan_loaded source=%s tasks=%d", s, g.Len())
	return g, nil
}
