/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package httpapi exposes the dispatch engine's management REST API:
// job ingestion, orchestrator completion callbacks, cancellation,
// admission inspection and dead-letter browsing.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"
	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-docdispatch/internal/admission"
	"github.com/acronis/go-docdispatch/internal/dispatcher"
	"github.com/acronis/go-docdispatch/internal/workqueue"
)

// ErrorDomain is the error domain of the service's REST API.
const ErrorDomain = "DocDispatch"

const defaultDeadLettersLimit = 100

// API bundles the HTTP handlers of the dispatch engine.
type API struct {
	Queue      *workqueue.Queue
	Counter    *admission.Counter
	Dispatcher *dispatcher.Dispatcher
	Logger     log.FieldLogger
}

// RegisterRoutes mounts all API routes on the passed router. The router
// is expected to be the versioned API subrouter.
func (a *API) RegisterRoutes(router chi.Router) {
	router.Post("/jobs", a.enqueueJob)
	router.Post("/jobs/{jobID}/cancel", a.cancelJob)
	router.Post("/executions/{executionID}/completion", a.completeExecution)
	router.Get("/admission", a.admissionState)
	router.Put("/admission/cap", a.setAdmissionCap)
	router.Get("/deadletters", a.deadLetters)
}

// requestLogger returns the request-scoped logger when the server
// middleware chain provides one, and the API's own logger otherwise.
func (a *API) requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return a.Logger
}

// EnqueueJobRequest is the body of POST /jobs.
type EnqueueJobRequest struct {
	JobID      string `json:"jobId"`
	PayloadRef string `json:"payloadRef"`
}

// EnqueueJobResponse is the body of a successful POST /jobs.
type EnqueueJobResponse struct {
	MessageID   string `json:"messageId"`
	JobID       string `json:"jobId"`
	ExecutionID string `json:"executionId"`
}

func (a *API) enqueueJob(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	var req EnqueueJobRequest
	if err := restapi.DecodeRequestJSON(r, &req); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, ErrorDomain, err, logger)
		return
	}
	if req.JobID == "" {
		apiErr := restapi.NewError(ErrorDomain, "invalidJobID", "jobId must not be empty")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	msg, err := a.Queue.Enqueue(r.Context(), req.JobID, req.PayloadRef)
	if err != nil {
		logger.Error("failed to enqueue job", log.String("job_id", req.JobID), log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}

	restapi.RespondCodeAndJSON(rw, http.StatusAccepted, EnqueueJobResponse{
		MessageID:   msg.ID,
		JobID:       msg.JobID,
		ExecutionID: msg.ExecutionID,
	}, logger)
}

func (a *API) cancelJob(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		apiErr := restapi.NewError(ErrorDomain, "invalidJobID", "jobID must not be empty")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	if err := a.Dispatcher.Cancel(r.Context(), jobID); err != nil {
		logger.Error("failed to mark job cancelled", log.String("job_id", jobID), log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// CompleteExecutionRequest is the body of the orchestrator's completion callback.
type CompleteExecutionRequest struct {
	Succeeded bool `json:"succeeded"`
}

func (a *API) completeExecution(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	executionID := chi.URLParam(r, "executionID")
	var req CompleteExecutionRequest
	if err := restapi.DecodeRequestJSON(r, &req); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, ErrorDomain, err, logger)
		return
	}

	found, err := a.Dispatcher.HandleCompletion(r.Context(), executionID, req.Succeeded)
	if err != nil {
		logger.Error("failed to handle completion callback",
			log.String("execution_id", executionID), log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if !found {
		// Duplicate or expired callback. Not an error: the first delivery
		// already released the lease.
		apiErr := restapi.NewError(ErrorDomain, "unknownExecution",
			fmt.Sprintf("execution %q is unknown or already completed", executionID))
		restapi.RespondError(rw, http.StatusNotFound, apiErr, logger)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// AdmissionStateResponse is the body of GET /admission.
type AdmissionStateResponse struct {
	Count           int `json:"count"`
	Cap             int `json:"cap"`
	PendingReleases int `json:"pendingReleases"`
}

func (a *API) admissionState(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	count, err := a.Counter.Count(r.Context())
	if err != nil {
		logger.Error("failed to read admission count", log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	capValue, err := a.Counter.Cap(r.Context())
	if err != nil {
		logger.Error("failed to read admission cap", log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}

	restapi.RespondJSON(rw, AdmissionStateResponse{
		Count:           count,
		Cap:             capValue,
		PendingReleases: a.Counter.PendingReleases(),
	}, logger)
}

// SetAdmissionCapRequest is the body of PUT /admission/cap.
type SetAdmissionCapRequest struct {
	Cap int `json:"cap"`
}

func (a *API) setAdmissionCap(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	var req SetAdmissionCapRequest
	if err := restapi.DecodeRequestJSON(r, &req); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, ErrorDomain, err, logger)
		return
	}
	if req.Cap < 1 {
		apiErr := restapi.NewError(ErrorDomain, "invalidCap", "cap must be at least 1")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	if err := a.Counter.SetCap(r.Context(), req.Cap); err != nil {
		logger.Error("failed to set admission cap", log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	logger.Info("admission cap updated", log.Int("cap", req.Cap))
	rw.WriteHeader(http.StatusNoContent)
}

// DeadLettersResponse is the body of GET /deadletters.
type DeadLettersResponse struct {
	Items []workqueue.DeadLetterRecord `json:"items"`
}

func (a *API) deadLetters(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	limit := defaultDeadLettersLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 {
			apiErr := restapi.NewError(ErrorDomain, "invalidLimit", "limit must be a positive integer")
			restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
			return
		}
		limit = parsed
	}

	records, err := a.Queue.DeadLetters(r.Context(), limit)
	if err != nil {
		logger.Error("failed to list dead letters", log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if records == nil {
		records = []workqueue.DeadLetterRecord{}
	}
	restapi.RespondJSON(rw, DeadLettersResponse{Items: records}, logger)
}
