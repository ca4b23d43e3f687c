/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package docproc implements the direct-mode sub-unit processor: it asks
// a document-processing worker service to enumerate a job's sub-units
// (typically pages or sections) and to process them one by one.
package docproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/acronis/go-docdispatch/internal/dispatcher"
	"github.com/acronis/go-docdispatch/internal/invoke"
	"github.com/acronis/go-docdispatch/internal/resultcache"
	"github.com/acronis/go-docdispatch/internal/workqueue"
)

// HTTPProcessor processes sub-units through a worker service's HTTP API.
type HTTPProcessor struct {
	client  *http.Client
	baseURL string
}

var _ dispatcher.SubUnitProcessor = (*HTTPProcessor)(nil)

// NewHTTPProcessor creates a new HTTPProcessor. The passed client is
// expected to carry logging/metrics transports but no retry transport:
// per-call retry is the invocation wrapper's job.
func NewHTTPProcessor(client *http.Client, baseURL string) *HTTPProcessor {
	return &HTTPProcessor{client: client, baseURL: baseURL}
}

type listSubUnitsRequest struct {
	JobID      string `json:"jobId"`
	PayloadRef string `json:"payloadRef"`
}

type listSubUnitsResponse struct {
	SubUnits []string `json:"subUnits"`
}

type processSubUnitRequest struct {
	JobID      string `json:"jobId"`
	PayloadRef string `json:"payloadRef"`
	SubUnitID  string `json:"subUnitId"`
}

// ListSubUnits asks the worker service to split the job's payload.
func (p *HTTPProcessor) ListSubUnits(ctx context.Context, msg workqueue.Message) ([]string, error) {
	var resp listSubUnitsResponse
	err := p.post(ctx, "/sub-units/list",
		listSubUnitsRequest{JobID: msg.JobID, PayloadRef: msg.PayloadRef}, &resp)
	if err != nil {
		return nil, fmt.Errorf("list sub-units of job %s: %w", msg.JobID, err)
	}
	return resp.SubUnits, nil
}

// ProcessSubUnit runs inference on a single sub-unit.
func (p *HTTPProcessor) ProcessSubUnit(
	ctx context.Context, msg workqueue.Message, subID string,
) (resultcache.SubResult, error) {
	var res resultcache.SubResult
	err := p.post(ctx, "/sub-units/"+url.PathEscape(subID)+"/process",
		processSubUnitRequest{JobID: msg.JobID, PayloadRef: msg.PayloadRef, SubUnitID: subID}, &res)
	if err != nil {
		return resultcache.SubResult{}, fmt.Errorf("process sub-unit %s of job %s: %w", subID, msg.JobID, err)
	}
	return res, nil
}

// post sends a JSON request and decodes a JSON response, classifying
// failures the same way the orchestrator boundary does: throttling,
// timeouts, 5xx and network errors are transient, other 4xx are fatal.
func (p *HTTPProcessor) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	rawReq, err := json.Marshal(reqBody)
	if err != nil {
		return invoke.Fatal(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(rawReq))
	if err != nil {
		return invoke.Fatal(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return invoke.Transient(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return invoke.Transient(fmt.Errorf("throttled (status %d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return invoke.Transient(fmt.Errorf("server error (status %d)", resp.StatusCode))
	default:
		return invoke.Fatal(fmt.Errorf("rejected (status %d)", resp.StatusCode))
	}

	if respBody == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return invoke.Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
