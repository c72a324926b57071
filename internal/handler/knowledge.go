package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/service"
	"github.com/framestudio/agency-assistant/internal/validation"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

// KnowledgeHandler handles the admin knowledge endpoints.
type KnowledgeHandler struct {
	service *service.KnowledgeService
	logger  *logger.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(svc *service.KnowledgeService, log *logger.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/admin/knowledge
func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.List(r.Context())
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("failed to list knowledge", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list knowledge")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Upsert handles PUT /api/v1/admin/knowledge
func (h *KnowledgeHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req model.UpsertKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.Upsert(r.Context(), &req)
	if errors.Is(err, service.ErrInvalidKnowledge) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, service.ErrEmbeddingUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("failed to upsert knowledge", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save knowledge entry")
		return
	}

	adminLog(r, h.logger).Info("knowledge entry saved",
		zap.String("id", res.Entry.ID),
		zap.Bool("created", res.Created),
	)

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// Delete handles DELETE /api/v1/admin/knowledge/{id}
func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.service.Delete(r.Context(), id)
	if errors.Is(err, service.ErrKnowledgeNotFound) {
		writeError(w, http.StatusNotFound, "knowledge entry not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("failed to delete knowledge", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete knowledge entry")
		return
	}
	adminLog(r, h.logger).Info("knowledge entry deleted", zap.String("id", id))

	w.WriteHeader(http.StatusNoContent)
}

// Reindex handles POST /api/v1/admin/knowledge/reindex
func (h *KnowledgeHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Reindex(r.Context())
	if errors.Is(err, service.ErrEmbeddingUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("reindex failed", zap.Int("reindexed", n), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reindex failed")
		return
	}

	adminLog(r, h.logger).Info("knowledge reindexed", zap.Int("reindexed", n))
	writeJSON(w, http.StatusOK, &model.ReindexResponse{Reindexed: n})
}
