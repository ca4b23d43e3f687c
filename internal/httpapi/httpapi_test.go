/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log/logtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-docdispatch/internal/admission"
	"github.com/acronis/go-docdispatch/internal/dispatcher"
	"github.com/acronis/go-docdispatch/internal/invoke"
	"github.com/acronis/go-docdispatch/internal/orchestrator"
	"github.com/acronis/go-docdispatch/internal/resultcache"
	"github.com/acronis/go-docdispatch/internal/workqueue"
)

type acceptAllOrchestrator struct{}

func (acceptAllOrchestrator) StartExecution(ctx context.Context, req orchestrator.StartRequest) error {
	return nil
}

type testServer struct {
	*httptest.Server
	queue   *workqueue.Queue
	counter *admission.Counter
	disp    *dispatcher.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	srv := miniredis.RunT(t)
	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) { return redis.Dial("tcp", srv.Addr()) },
	}
	t.Cleanup(func() { _ = pool.Close() })

	logger := logtest.NewRecorder()
	const ns = "test"

	queue := workqueue.New(pool, &workqueue.Config{
		VisibilityTimeout: config.TimeDuration(time.Minute),
		MaxDeliveries:     3,
	}, ns, logger)
	counter := admission.NewCounter(pool, &admission.Config{
		MaxConcurrentJobs: 2,
		LeaseTTL:          config.TimeDuration(time.Minute),
	}, ns, logger)
	invoker := invoke.NewInvoker(invoke.Policy{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}, logger)
	cache := resultcache.NewNoop()

	disp, err := dispatcher.New(queue, counter, invoker, cache, pool, dispatcher.NewDefaultConfig(),
		ns, logger, dispatcher.Opts{Orchestrator: acceptAllOrchestrator{}})
	require.NoError(t, err)

	api := &API{Queue: queue, Counter: counter, Dispatcher: disp, Logger: logger}
	router := chi.NewRouter()
	api.RegisterRoutes(router)

	httpSrv := httptest.NewServer(router)
	t.Cleanup(httpSrv.Close)
	return &testServer{Server: httpSrv, queue: queue, counter: counter, disp: disp}
}

func (s *testServer) doJSON(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var respBody bytes.Buffer
	_, err = respBody.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, respBody.Bytes()
}

func TestEnqueueJob(t *testing.T) {
	s := newTestServer(t)

	t.Run("accepts a valid job", func(t *testing.T) {
		resp, body := s.doJSON(t, http.MethodPost, "/jobs",
			EnqueueJobRequest{JobID: "job-1", PayloadRef: "s3://bucket/doc.pdf"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var got EnqueueJobResponse
		require.NoError(t, json.Unmarshal(body, &got))
		require.Equal(t, "job-1", got.JobID)
		require.NotEmpty(t, got.MessageID)
		require.NotEmpty(t, got.ExecutionID)

		depths, err := s.queue.Depths(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, depths.Pending)
	})

	t.Run("rejects an empty job id", func(t *testing.T) {
		resp, _ := s.doJSON(t, http.MethodPost, "/jobs", EnqueueJobRequest{PayloadRef: "ref"})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, s.URL+"/jobs", bytes.NewBufferString("{not json"))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.doJSON(t, http.MethodPost, "/jobs/job-1/cancel", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAdmissionState(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, admitted, err := s.counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, admitted)

	resp, body := s.doJSON(t, http.MethodGet, "/admission", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got AdmissionStateResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 1, got.Count)
	require.Equal(t, 2, got.Cap)
	require.Zero(t, got.PendingReleases)
}

func TestSetAdmissionCap(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.doJSON(t, http.MethodPut, "/admission/cap", SetAdmissionCapRequest{Cap: 5})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := s.doJSON(t, http.MethodGet, "/admission", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got AdmissionStateResponse
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 5, got.Cap)

	resp, _ = s.doJSON(t, http.MethodPut, "/admission/cap", SetAdmissionCapRequest{Cap: 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompleteExecution(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	t.Run("unknown execution yields 404", func(t *testing.T) {
		resp, _ := s.doJSON(t, http.MethodPost, "/executions/nope/completion",
			CompleteExecutionRequest{Succeeded: true})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("releases the lease of a handed-off execution once", func(t *testing.T) {
		msg, err := s.queue.Enqueue(ctx, "job-1", "ref")
		require.NoError(t, err)

		// Let the dispatcher hand the job off to the workflow engine.
		runCtx, cancel := context.WithCancel(ctx)
		runErr := make(chan error)
		go func() {
			runErr <- s.disp.Run(runCtx)
		}()
		require.Eventually(t, func() bool {
			count, countErr := s.counter.Count(ctx)
			return countErr == nil && count == 1
		}, 3*time.Second, 10*time.Millisecond)
		cancel()
		require.NoError(t, <-runErr)

		resp, _ := s.doJSON(t, http.MethodPost,
			"/executions/"+msg.ExecutionID+"/completion", CompleteExecutionRequest{Succeeded: true})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		count, err := s.counter.Count(ctx)
		require.NoError(t, err)
		require.Zero(t, count)

		// The duplicate callback finds nothing to release.
		resp, _ = s.doJSON(t, http.MethodPost,
			"/executions/"+msg.ExecutionID+"/completion", CompleteExecutionRequest{Succeeded: true})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDeadLetters(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	t.Run("empty destination yields an empty list", func(t *testing.T) {
		resp, body := s.doJSON(t, http.MethodGet, "/deadletters", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"items":[]}`, string(body))
	})

	t.Run("returns records with failure metadata", func(t *testing.T) {
		_, err := s.queue.Enqueue(ctx, "job-1", "ref")
		require.NoError(t, err)
		msgs, err := s.queue.Receive(ctx, 10, 200*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.NoError(t, s.queue.DeadLetter(ctx, msgs[0], "document is corrupt"))

		resp, body := s.doJSON(t, http.MethodGet, "/deadletters?limit=10", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got DeadLettersResponse
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got.Items, 1)
		require.Equal(t, "job-1", got.Items[0].Message.JobID)
		require.Equal(t, "document is corrupt", got.Items[0].LastError)
	})

	t.Run("rejects a non-numeric limit", func(t *testing.T) {
		resp, _ := s.doJSON(t, http.MethodGet, "/deadletters?limit=abc", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
