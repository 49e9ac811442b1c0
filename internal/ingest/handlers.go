package ingest

import (
	"net/http"
	"strconv"

	"mediarelay/internal/logging"
	"mediarelay/internal/response"
)

type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// HandleReceiveChunk handles POST /v1/sessions/{session_id}/chunks/{index}
//
// Chunk bytes are the raw request body. Metadata rides in headers:
// X-Owner-ID (caller-established identity) and X-Total-Chunks.
func (h *Handler) HandleReceiveChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.WriteError(w, http.StatusMethodNotAllowed, response.CodeBadRequest, "Method not allowed", "")
		return
	}

	sessionID := r.PathValue("session_id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "index must be an integer", "")
		return
	}

	totalChunks, err := strconv.Atoi(r.Header.Get("X-Total-Chunks"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "X-Total-Chunks header is required", "")
		return
	}

	ownerID := r.Header.Get("X-Owner-ID")
	if ownerID == "" {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "X-Owner-ID header is required", "")
		return
	}

	if r.ContentLength <= 0 {
		response.WriteError(w, http.StatusBadRequest, response.CodeBadRequest, "chunk body is required", "Send chunk bytes as the raw request body with Content-Length set")
		return
	}

	receipt, err := h.service.ReceiveChunk(r.Context(), ChunkRequest{
		SessionID:   sessionID,
		OwnerID:     ownerID,
		Index:       index,
		TotalChunks: totalChunks,
		SizeBytes:   r.ContentLength,
		Body:        r.Body,
	})
	if err != nil {
		h.logger.Error("chunk ingest failed", "session_id", sessionID, "index", index, "error", err)
		response.WriteTaxonomyError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, receipt)
}

// HandleCreateSession handles POST /v1/sessions and returns a fresh
// server-minted session id.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.WriteError(w, http.StatusMethodNotAllowed, response.CodeBadRequest, "Method not allowed", "")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{
		"session_id": NewSessionID(),
	})
}
