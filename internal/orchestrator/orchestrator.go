/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package orchestrator defines the boundary with the external workflow
// engine that sequences the inference stages. The dispatcher only starts
// executions here; the engine reports terminal outcomes back through the
// completion callback endpoint.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/acronis/go-docdispatch/internal/invoke"
)

// StartRequest carries everything the workflow engine needs to take
// ownership of an admitted job.
type StartRequest struct {
	JobID       string `json:"jobId"`
	ExecutionID string `json:"executionId"`
	PayloadRef  string `json:"payloadRef"`
}

// Orchestrator starts downstream workflow executions.
type Orchestrator interface {
	StartExecution(ctx context.Context, req StartRequest) error
}

// HTTPOrchestrator is an Orchestrator talking to the workflow engine over HTTP.
type HTTPOrchestrator struct {
	client  *http.Client
	baseURL string
}

var _ Orchestrator = (*HTTPOrchestrator)(nil)

// NewHTTPOrchestrator creates a new HTTPOrchestrator. The passed client is
// expected to carry logging/metrics transports but no retry transport:
// per-call retry is the invocation wrapper's job.
func NewHTTPOrchestrator(client *http.Client, baseURL string) *HTTPOrchestrator {
	return &HTTPOrchestrator{client: client, baseURL: baseURL}
}

// StartExecution implements Orchestrator. Throttling (429), request
// timeouts, server-side (5xx) and network errors are marked transient for
// the invocation wrapper; other 4xx responses are fatal.
func (o *HTTPOrchestrator) StartExecution(ctx context.Context, req StartRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return invoke.Fatal(fmt.Errorf("marshal start-execution request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, o.baseURL+"/executions", bytes.NewReader(body))
	if err != nil {
		return invoke.Fatal(fmt.Errorf("build start-execution request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return invoke.Transient(fmt.Errorf("start execution %s: %w", req.ExecutionID, err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return invoke.Transient(fmt.Errorf("start execution %s: throttled (status %d)", req.ExecutionID, resp.StatusCode))
	case resp.StatusCode >= 500:
		return invoke.Transient(fmt.Errorf("start execution %s: server error (status %d)", req.ExecutionID, resp.StatusCode))
	default:
		return invoke.Fatal(fmt.Errorf("start execution %s: rejected (status %d)", req.ExecutionID, resp.StatusCode))
	}
}
