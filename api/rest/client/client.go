// Package client implements the worker side HTTP client of the coordinator
// API using Fiber.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"yqhp/test-scheduler/internal/coordinator"
	"yqhp/test-scheduler/pkg/types"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// CoordinatorURL is the base URL of the coordinator (e.g., "http://localhost:8787")
	CoordinatorURL string

	// WorkerID is the identifier to register with, empty to let the coordinator assign one.
	WorkerID string

	// Name is a human readable worker name.
	Name string

	// Address is reported to the coordinator for diagnostics.
	Address string

	// Labels are key-value labels for this worker.
	Labels map[string]string

	// RequestTimeout is the timeout for HTTP requests.
	RequestTimeout time.Duration
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() *Config {
	return &Config{
		CoordinatorURL: "http://localhost:8787",
		RequestTimeout: 10 * time.Second,
	}
}

// APIError is a non-success response from the coordinator.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("coordinator returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("coordinator returned %d", e.StatusCode)
}

// Unwrap maps error codes back to the scheduler's sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "no_more_work":
		return coordinator.ErrNoMoreWork
	case "cancelled":
		return coordinator.ErrCancelled
	case "unknown_worker":
		return coordinator.ErrUnknownWorker
	case "unknown_scope":
		return coordinator.ErrUnknownScope
	case "worker_exists":
		return coordinator.ErrWorkerExists
	case "invalid_slots":
		return coordinator.ErrInvalidSlots
	}
	return nil
}

// Client talks to the coordinator on behalf of one worker.
type Client struct {
	config *Config
	agent  *fiber.Client

	mu       sync.RWMutex
	workerID string
}

// NewClient creates a new HTTP client.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}

	agent := fiber.AcquireClient()
	agent.JSONEncoder = sonic.Marshal
	agent.JSONDecoder = sonic.Unmarshal

	return &Client{
		config:   config,
		agent:    agent,
		workerID: config.WorkerID,
	}
}

// WorkerID returns the registered worker ID.
func (c *Client) WorkerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workerID
}

// Health checks that the coordinator is reachable.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var resp types.HealthResponse
	if _, err := c.do(ctx, c.agent.Get(c.url("/health")), c.config.RequestTimeout, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register registers the worker and remembers the assigned ID.
func (c *Client) Register(ctx context.Context, slots int) (*types.WorkerRegisterResponse, error) {
	req := &types.WorkerRegisterRequest{
		WorkerID: c.config.WorkerID,
		Name:     c.config.Name,
		Address:  c.config.Address,
		Labels:   c.config.Labels,
		Slots:    slots,
	}

	var resp types.WorkerRegisterResponse
	if _, err := c.do(ctx, c.agent.Post(c.url("/api/v1/workers")), c.config.RequestTimeout, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	c.mu.Lock()
	c.workerID = resp.WorkerID
	c.mu.Unlock()

	return &resp, nil
}

// ReportCapacity reports the worker's slot count and returns the free slots.
func (c *Client) ReportCapacity(ctx context.Context, slots int) (int, error) {
	var resp types.CapacityResponse
	if _, err := c.do(ctx, c.agent.Put(c.workerURL("/capacity")), c.config.RequestTimeout, &types.CapacityRequest{Slots: slots}, &resp); err != nil {
		return 0, err
	}
	return resp.Available, nil
}

// NextAssignment long-polls for the next scope. It returns nil without an
// error when wait expires, and an error wrapping coordinator.ErrNoMoreWork
// or coordinator.ErrCancelled when no further scope will come.
func (c *Client) NextAssignment(ctx context.Context, wait time.Duration) (*types.Assignment, error) {
	path := c.workerURL("/assignment") + "?wait=" + url.QueryEscape(wait.String())

	var assignment types.Assignment
	status, err := c.do(ctx, c.agent.Get(path), wait+c.config.RequestTimeout, nil, &assignment)
	if err != nil {
		return nil, err
	}
	if status == fiber.StatusNoContent {
		return nil, nil
	}
	return &assignment, nil
}

// ReportCompletion reports a finished scope.
func (c *Client) ReportCompletion(ctx context.Context, scope string) error {
	_, err := c.do(ctx, c.agent.Post(c.workerURL("/completions")), c.config.RequestTimeout, &types.CompletionRequest{Scope: scope}, nil)
	return err
}

// Heartbeat reports liveness. The result asks the worker to stop.
func (c *Client) Heartbeat(ctx context.Context) (bool, error) {
	var resp types.HeartbeatResponse
	if _, err := c.do(ctx, c.agent.Post(c.workerURL("/heartbeat")), c.config.RequestTimeout, nil, &resp); err != nil {
		return false, err
	}
	return resp.Stop, nil
}

// Disconnect removes the worker from the coordinator.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.do(ctx, c.agent.Delete(c.workerURL("")), c.config.RequestTimeout, nil, nil)
	return err
}

// Status fetches the coordinator's scheduling snapshot.
func (c *Client) Status(ctx context.Context) (*types.SchedulerSnapshot, error) {
	var snap types.SchedulerSnapshot
	if _, err := c.do(ctx, c.agent.Get(c.url("/api/v1/status")), c.config.RequestTimeout, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Workers lists the coordinator's active workers. A nil filter lists all.
func (c *Client) Workers(ctx context.Context, filter *coordinator.WorkerFilter) (*types.WorkerListResponse, error) {
	query := url.Values{}
	if filter != nil {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}
		if len(states) > 0 {
			query.Set("state", strings.Join(states, ","))
		}
		labels := make([]string, 0, len(filter.Labels))
		for k, v := range filter.Labels {
			labels = append(labels, k+"="+v)
		}
		sort.Strings(labels)
		if len(labels) > 0 {
			query.Set("label", strings.Join(labels, ","))
		}
	}

	path := c.url("/api/v1/workers")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp types.WorkerListResponse
	if _, err := c.do(ctx, c.agent.Get(path), c.config.RequestTimeout, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) url(path string) string {
	return c.config.CoordinatorURL + path
}

func (c *Client) workerURL(suffix string) string {
	return c.url("/api/v1/workers/" + url.PathEscape(c.WorkerID()) + suffix)
}

// do sends a request and decodes a successful response into out. The
// request gives up when ctx ends, and never outlives ctx's deadline.
func (c *Client) do(ctx context.Context, req *fiber.Agent, timeout time.Duration, in, out any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	req.Timeout(timeout)
	if in != nil {
		req.JSON(in)
	}

	type result struct {
		status int
		body   []byte
		errs   []error
	}
	done := make(chan result, 1)
	go func() {
		status, body, errs := req.Bytes()
		done <- result{status, body, errs}
	}()

	var res result
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res = <-done:
	}

	if len(res.errs) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("request failed: %w", res.errs[0])
	}

	if res.status >= fiber.StatusBadRequest {
		apiErr := &APIError{StatusCode: res.status}
		var errResp types.ErrorResponse
		if err := sonic.Unmarshal(res.body, &errResp); err == nil {
			apiErr.Code = errResp.Error
			apiErr.Message = errResp.Message
		}
		return res.status, apiErr
	}

	if out != nil && res.status != fiber.StatusNoContent && len(res.body) > 0 {
		if err := sonic.Unmarshal(res.body, out); err != nil {
			return res.status, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return res.status, nil
}
