// Package workflowclient is the HTTP client for the external workflow
// engine's consumed contract: compile, start_process,
// activate_job, complete_job, fail_job. Its get/post/delete/do shape
// generalizes a plain REST client to this contract's process-lifecycle
// operations. A handful of retryable attempts with exponential backoff
// absorb a transient 5xx or dropped connection before the circuit
// breaker counts the call as a failure, so a degraded workflow engine
// fails fast only once retries are exhausted instead of stalling every
// durable step's lock-holding transaction on the first hiccup.
package workflowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

// Client is an HTTP client for the external workflow engine.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a Client whose circuit opens after 5 consecutive
// failures and probes again after 30 seconds half-open.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "workflow-engine",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// CompileRequest names the process model to compile.
type CompileRequest struct {
	Model string `json:"model"`
}

// CompileResponse carries the bytecode version the engine assigned.
type CompileResponse struct {
	BytecodeVersion string `json:"bytecode_version"`
}

// Compile registers a process model and returns its bytecode version.
func (c *Client) Compile(ctx context.Context, req CompileRequest) (*CompileResponse, error) {
	var resp CompileResponse
	if err := c.post(ctx, "/process-models/compile", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartProcessRequest starts one process instance, carrying the
// correlation key derived as sha256(runbook_id || step_id ||
// session_cursor).
type StartProcessRequest struct {
	ProcessKey      string         `json:"process_key"`
	BytecodeVersion string         `json:"bytecode_version"`
	Variables       map[string]any `json:"variables"`
	CorrelationKey  string         `json:"correlation_key"`
}

// StartProcessResponse names the started instance.
type StartProcessResponse struct {
	ProcessInstanceID string `json:"process_instance_id"`
}

// StartProcess begins a correlated process instance for a durable or
// human-gated step.
func (c *Client) StartProcess(ctx context.Context, req StartProcessRequest) (*StartProcessResponse, error) {
	var resp StartProcessResponse
	if err := c.post(ctx, "/process-instances", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivatedJob is one job returned by a long-poll ActivateJob call.
type ActivatedJob struct {
	JobID     string         `json:"job_id"`
	Variables map[string]any `json:"variables"`
}

// ActivateJob long-polls for the next available job of jobType.
func (c *Client) ActivateJob(ctx context.Context, jobType string) (*ActivatedJob, error) {
	var resp ActivatedJob
	path := fmt.Sprintf("/jobs/activate?type=%s", jobType)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteJob reports a job's successful completion with its output
// variables.
func (c *Client) CompleteJob(ctx context.Context, jobID string, variables map[string]any) error {
	path := fmt.Sprintf("/jobs/%s/complete", jobID)
	return c.post(ctx, path, variables, nil)
}

// FailJob reports a job's failure.
func (c *Client) FailJob(ctx context.Context, jobID string, errMsg string) error {
	path := fmt.Sprintf("/jobs/%s/fail", jobID)
	return c.post(ctx, path, map[string]string{"error": errMsg}, nil)
}

// CancelProcess aborts a correlated process instance; cancel_runbook
// instructs the workflow engine to abort it.
func (c *Client) CancelProcess(ctx context.Context, processInstanceID string) error {
	path := fmt.Sprintf("/process-instances/%s", processInstanceID)
	return c.delete(ctx, path, nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) delete(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		backoff, err := retry.NewExponential(100 * time.Millisecond)
		if err != nil {
			return nil, err
		}
		backoff = retry.WithMaxRetries(3, backoff)

		err = retry.Do(req.Context(), backoff, func(ctx context.Context) error {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return err
				}
				req.Body = body
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return retry.RetryableError(fmt.Errorf("executing request: %w", err))
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode >= 500 {
				return retry.RetryableError(fmt.Errorf("workflow engine returned %d: %s", resp.StatusCode, string(body)))
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("workflow engine returned %d: %s", resp.StatusCode, string(body))
			}

			if result != nil && len(body) > 0 {
				if err := json.Unmarshal(body, result); err != nil {
					return fmt.Errorf("unmarshaling response: %w", err)
				}
			}
			return nil
		})
		return nil, err
	})
	return err
}
