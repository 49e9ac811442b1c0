package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"

	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/response"
	"mediarelay/internal/store"
)

type Handler struct {
	service   *Service
	collector *metrics.Collector
	logger    *logging.Logger
}

func NewHandler(service *Service, collector *metrics.Collector, logger *logging.Logger) *Handler {
	return &Handler{
		service:   service,
		collector: collector,
		logger:    logger,
	}
}

// HandlePublish handles POST /v1/sessions/{session_id}/publish
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.WriteError(w, http.StatusMethodNotAllowed, response.CodeBadRequest, "Method not allowed", "")
		return
	}

	sessionID := r.PathValue("session_id")
	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "X-Owner-ID header is required", "")
		return
	}

	var params PublishParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "Invalid request body", "")
		return
	}
	if params.MediaType == "" {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "media_type is required", "")
		return
	}
	params.OwnerID = ownerID

	job, err := h.service.FinalizeAndPublish(r.Context(), sessionID, params)
	if err != nil {
		h.logger.Error("publish failed", "session_id", sessionID, "error", err)
		if errors.Is(err, errs.ErrUpstreamSubmission) && job != nil {
			// The rejection is durable; hand the FAILED job back with the
			// gateway status so the caller sees both.
			response.WriteJSON(w, http.StatusBadGateway, job)
			return
		}
		response.WriteTaxonomyError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, job)
}

// HandleJobStatus handles GET /v1/jobs/{job_id}
func (h *Handler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.WriteError(w, http.StatusMethodNotAllowed, response.CodeBadRequest, "Method not allowed", "")
		return
	}

	job, err := h.service.JobStatus(r.Context(), r.PathValue("job_id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			response.WriteError(w, http.StatusNotFound, response.CodeNotFound, "publish job not found", "")
			return
		}
		response.WriteTaxonomyError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, job)
}

// HandleCleanup handles POST /v1/jobs/{job_id}/cleanup
func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.WriteError(w, http.StatusMethodNotAllowed, response.CodeBadRequest, "Method not allowed", "")
		return
	}

	result, err := h.service.CleanupJob(r.Context(), r.PathValue("job_id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			response.WriteError(w, http.StatusNotFound, response.CodeNotFound, "publish job not found", "")
			return
		}
		response.WriteTaxonomyError(w, err)
		return
	}

	// Partial failure is reported, never escalated: 200 either way, the
	// errors list tells the caller what to retry.
	response.WriteJSON(w, http.StatusOK, result)
}

// HandleMetrics handles GET /metrics
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.collector.Snapshot())
}
