package letta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lettagram/lettagram/internal/domain"
)

// Config holds tunables for the client. Zero values are replaced by
// DefaultConfig at construction.
type Config struct {
	RequestTimeout    time.Duration // per non-streaming call
	MaxAttempts       int           // stream/list establishment attempts on 5xx
	BackoffBase       time.Duration
	BackoffCeiling    time.Duration
	StreamInactivity  time.Duration // abort when no event arrives for this long
	StreamMaxDuration time.Duration // overall cap on one agent call
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    30 * time.Second,
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffCeiling:    10 * time.Second,
		StreamInactivity:  90 * time.Second,
		StreamMaxDuration: 6 * time.Minute,
	}
}

// Client talks to a Letta server. The base URL comes from each call's
// credential, so one client serves every user and self-hosted servers
// work transparently.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCeiling <= 0 {
		cfg.BackoffCeiling = def.BackoffCeiling
	}
	if cfg.StreamInactivity <= 0 {
		cfg.StreamInactivity = def.StreamInactivity
	}
	if cfg.StreamMaxDuration <= 0 {
		cfg.StreamMaxDuration = def.StreamMaxDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{}, // no client timeout: streams outlive RequestTimeout
		logger: logger,
	}
}

// ListAgents returns the agents visible to cred, optionally scoped to a
// project.
func (c *Client) ListAgents(ctx context.Context, cred *domain.Credential, projectID string) ([]Agent, error) {
	path := "/v1/agents/"
	if projectID != "" {
		path += "?project_id=" + url.QueryEscape(projectID)
	}
	var agents []Agent
	if err := c.get(ctx, cred, path, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent retrieves one agent. ErrNotFound doubles as the
// authorization check: an agent owned by someone else is invisible.
func (c *Client) GetAgent(ctx context.Context, cred *domain.Credential, agentID string) (*Agent, error) {
	var agent Agent
	if err := c.get(ctx, cred, "/v1/agents/"+url.PathEscape(agentID), &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListProjects returns the projects visible to cred.
func (c *Client) ListProjects(ctx context.Context, cred *domain.Credential) ([]Project, error) {
	// The projects endpoint wraps its list; agents and tools do not.
	var wrapper struct {
		Projects []Project `json:"projects"`
	}
	if err := c.get(ctx, cred, "/v1/projects/", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Projects, nil
}

// ListTools returns the tools attached to an agent.
func (c *Client) ListTools(ctx context.Context, cred *domain.Credential, agentID string) ([]Tool, error) {
	var tools []Tool
	if err := c.get(ctx, cred, "/v1/agents/"+url.PathEscape(agentID)+"/tools", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// ListAvailableTools returns every tool in the account, attachable or
// already attached.
func (c *Client) ListAvailableTools(ctx context.Context, cred *domain.Credential) ([]Tool, error) {
	var tools []Tool
	if err := c.get(ctx, cred, "/v1/tools/", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// AgentOverview fetches an agent and its attached tools concurrently.
func (c *Client) AgentOverview(ctx context.Context, cred *domain.Credential, agentID string) (*AgentOverview, error) {
	var overview AgentOverview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agent, err := c.GetAgent(gctx, cred, agentID)
		if err != nil {
			return err
		}
		overview.Agent = *agent
		return nil
	})
	g.Go(func() error {
		tools, err := c.ListTools(gctx, cred, agentID)
		if err != nil {
			return err
		}
		overview.Tools = tools
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &overview, nil
}

// AttachTool attaches a tool to an agent. Attaching a tool that is
// already attached reports OutcomeAlreadyAttached, not an error.
func (c *Client) AttachTool(ctx context.Context, cred *domain.Credential, agentID, toolID string) (AttachOutcome, error) {
	attached, err := c.ListTools(ctx, cred, agentID)
	if err != nil {
		return OutcomeChanged, err
	}
	for _, t := range attached {
		if t.ID == toolID {
			return OutcomeAlreadyAttached, nil
		}
	}
	path := "/v1/agents/" + url.PathEscape(agentID) + "/tools/attach/" + url.PathEscape(toolID)
	if err := c.patch(ctx, cred, path); err != nil {
		return OutcomeChanged, err
	}
	return OutcomeChanged, nil
}

// DetachTool detaches a tool from an agent. Detaching a tool that is
// not attached reports OutcomeNotAttached, not an error.
func (c *Client) DetachTool(ctx context.Context, cred *domain.Credential, agentID, toolID string) (AttachOutcome, error) {
	attached, err := c.ListTools(ctx, cred, agentID)
	if err != nil {
		return OutcomeChanged, err
	}
	present := false
	for _, t := range attached {
		if t.ID == toolID {
			present = true
			break
		}
	}
	if !present {
		return OutcomeNotAttached, nil
	}
	path := "/v1/agents/" + url.PathEscape(agentID) + "/tools/detach/" + url.PathEscape(toolID)
	if err := c.patch(ctx, cred, path); err != nil {
		return OutcomeChanged, err
	}
	return OutcomeChanged, nil
}

// ValidateKey checks a credential by listing agents, returning how many
// are visible. Used by /login and /status.
func (c *Client) ValidateKey(ctx context.Context, cred *domain.Credential) (int, error) {
	agents, err := c.ListAgents(ctx, cred, "")
	if err != nil {
		return 0, err
	}
	return len(agents), nil
}

// get performs an authenticated GET with retry on 5xx.
func (c *Client) get(ctx context.Context, cred *domain.Credential, path string, out any) error {
	return c.doWithRetry(ctx, cred, http.MethodGet, path, nil, out)
}

// patch performs an authenticated PATCH with no body and no retry
// (attach/detach are verified-idempotent by the callers above, but a
// repeated PATCH after a half-applied failure is still safe server-side,
// so a single attempt keeps error reporting simple).
func (c *Client) patch(ctx context.Context, cred *domain.Credential, path string) error {
	return c.do(ctx, cred, http.MethodPatch, path, nil, nil)
}

func (c *Client) doWithRetry(ctx context.Context, cred *domain.Credential, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Debug("retrying letta request", "method", method, "path", path, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := c.do(ctx, cred, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

// backoff computes the delay before the given (1-based) retry attempt:
// exponential from the base with full jitter, capped at the ceiling.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 1)
	if d > c.cfg.BackoffCeiling {
		d = c.cfg.BackoffCeiling
	}
	return time.Duration(rand.Int64N(int64(d)) + int64(d)/2)
}

func (c *Client) do(ctx context.Context, cred *domain.Credential, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, cred, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRemote, method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close letta response body", "path", path, "error", closeErr)
		}
	}()

	if err := checkStatus(resp, method, path); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, cred *domain.Credential, method, path string, body []byte) (*http.Request, error) {
	base := strings.TrimRight(cred.APIURL, "/")
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// checkStatus maps HTTP status classes to the package's typed errors.
func checkStatus(resp *http.Response, method, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: http %d", ErrAuth, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode >= 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: http %d: %s", ErrRemote, method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("letta: %s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}

// isRetryable reports whether err warrants another attempt. Only
// transient server errors qualify; auth and not-found are final.
func isRetryable(err error) bool {
	return errors.Is(err, ErrRemote)
}
