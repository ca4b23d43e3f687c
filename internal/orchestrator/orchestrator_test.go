/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-docdispatch/internal/invoke"
)

func TestHTTPOrchestratorStartExecution(t *testing.T) {
	ctx := context.Background()
	req := StartRequest{JobID: "job-1", ExecutionID: "exec-1", PayloadRef: "s3://bucket/doc.pdf"}

	t.Run("2xx succeeds and sends the full request", func(t *testing.T) {
		var got StartRequest
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/executions", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			rw.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		orch := NewHTTPOrchestrator(srv.Client(), srv.URL)
		require.NoError(t, orch.StartExecution(ctx, req))
		require.Equal(t, req, got)
	})

	t.Run("throttling is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		err := NewHTTPOrchestrator(srv.Client(), srv.URL).StartExecution(ctx, req)
		require.Error(t, err)
		require.True(t, invoke.IsTransient(err))
		require.False(t, invoke.IsFatal(err))
	})

	t.Run("server errors are transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := NewHTTPOrchestrator(srv.Client(), srv.URL).StartExecution(ctx, req)
		require.Error(t, err)
		require.True(t, invoke.IsTransient(err))
	})

	t.Run("client rejection is fatal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		err := NewHTTPOrchestrator(srv.Client(), srv.URL).StartExecution(ctx, req)
		require.Error(t, err)
		require.True(t, invoke.IsFatal(err))
		require.False(t, invoke.IsTransient(err))
	})

	t.Run("network errors are transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		err := NewHTTPOrchestrator(http.DefaultClient, srv.URL).StartExecution(ctx, req)
		require.Error(t, err)
		require.True(t, invoke.IsTransient(err))
	})
}
