package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
)

// endedStatuses are session states after which no pull request will appear.
var endedStatuses = map[string]bool{
	"blocked":  true,
	"finished": true,
	"expired":  true,
	"stopped":  true,
}

type createRequest struct {
	Prompt     string `json:"prompt"`
	Title      string `json:"title"`
	Idempotent bool   `json:"idempotent"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type statusResponse struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status_enum"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

// HTTPExecutor drives a session API: it creates a session with the rendered
// prompt, then polls until the session reports a pull request.
type HTTPExecutor struct {
	baseURL       string
	apiKey        string
	client        *http.Client
	prompts       *PromptRenderer
	checks        *CheckRenderer
	pollInterval  time.Duration
	submitTimeout time.Duration
	logger        *logging.Logger
}

func NewHTTPExecutor(cfg model.ExecutorConfig, apiKey string, prompts *PromptRenderer, logger *logging.Logger) *HTTPExecutor {
	if logger == nil {
		logger = logging.Discard()
	}
	poll := cfg.PollInterval()
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &HTTPExecutor{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        apiKey,
		client:        &http.Client{Timeout: 30 * time.Second},
		prompts:       prompts,
		pollInterval:  poll,
		submitTimeout: cfg.SubmitTimeout(),
		logger:        logger,
	}
}

// WithClient replaces the HTTP client.
func (e *HTTPExecutor) WithClient(c *http.Client) *HTTPExecutor {
	if c != nil {
		e.client = c
	}
	return e
}

// WithChecks enables SubmitCheck for the kinds r has templates for.
func (e *HTTPExecutor) WithChecks(r *CheckRenderer) *HTTPExecutor {
	e.checks = r
	return e
}

// WithPollInterval overrides how often session status is polled.
func (e *HTTPExecutor) WithPollInterval(d time.Duration) *HTTPExecutor {
	if d > 0 {
		e.pollInterval = d
	}
	return e
}

func (e *HTTPExecutor) Submit(ctx context.Context, task *model.Task, peers []*model.Task) (Handle, error) {
	prompt, err := e.prompts.Render(task, peers)
	if err != nil {
		return Handle{}, err
	}
	return e.start(ctx, Handle{TaskID: task.ID}, task.ID+": "+task.Title, prompt)
}

// SubmitCheck starts a check session over batch.
func (e *HTTPExecutor) SubmitCheck(ctx context.Context, kind CheckKind, iteration int, batch []Handle) (Handle, error) {
	if !e.checks.Enabled(kind) {
		return Handle{}, fmt.Errorf("%s is not enabled", kind)
	}
	prompt, err := e.checks.Render(kind, iteration, batch)
	if err != nil {
		return Handle{}, err
	}
	return e.start(ctx, Handle{TaskID: string(kind), Check: kind}, checkTitle(kind, iteration), prompt)
}

// start creates a session and waits for its pull request. h carries the
// identity fields of the handle to return.
func (e *HTTPExecutor) start(ctx context.Context, h Handle, title, prompt string) (Handle, error) {
	if e.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.submitTimeout)
		defer cancel()
	}

	var created createResponse
	req := createRequest{Prompt: prompt, Title: title}
	if err := e.do(ctx, http.MethodPost, "/sessions", req, &created); err != nil {
		return Handle{}, fmt.Errorf("create session for %s: %w", h.TaskID, err)
	}
	if created.SessionID == "" {
		return Handle{}, fmt.Errorf("create session for %s: response has no session_id", h.TaskID)
	}
	h.SessionID, h.SessionURL = created.SessionID, created.URL
	e.logger.Info("session_created task=%s session=%s url=%s", h.TaskID, h.SessionID, h.SessionURL)

	ref, err := e.awaitPullRequest(ctx, h.SessionID)
	if err != nil {
		return h, fmt.Errorf("session %s for %s: %w", h.SessionID, h.TaskID, err)
	}
	h.ReviewRef = ref
	e.logger.Info("session_review_ready task=%s session=%s pr=%s", h.TaskID, h.SessionID, ref)
	return h, nil
}

func (e *HTTPExecutor) awaitPullRequest(ctx context.Context, sessionID string) (string, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	last := ""
	for {
		var st statusResponse
		if err := e.do(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &st); err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: last status %q", ErrNoReviewRef, last)
			}
			return "", err
		}
		if st.Status != last {
			e.logger.Debug("session_status session=%s status=%s", sessionID, st.Status)
			last = st.Status
		}
		if st.PullRequest != nil && st.PullRequest.URL != "" {
			return st.PullRequest.URL, nil
		}
		if endedStatuses[st.Status] {
			return "", fmt.Errorf("%w: session is %s", ErrNoReviewRef, st.Status)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: last status %q", ErrNoReviewRef, last)
		case <-ticker.C:
		}
	}
}

func (e *HTTPExecutor) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the session API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("session API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("session API returned %d: %s", e.StatusCode, e.Body)
}

// IsAuthError reports whether err is a 401 or 403 from the session API.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}
