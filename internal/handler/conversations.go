// Package handler provides HTTP handlers for the API.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/service"
	"github.com/framestudio/agency-assistant/internal/validation"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

// ConversationHandler handles the admin conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/admin/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.List(ctx, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		logger.FromContext(ctx, h.logger).Error("failed to list conversations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/admin/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Get(r.Context(), conversationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Messages handles GET /api/v1/admin/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Messages(r.Context(), conversationID, queryInt(r, "limit", 0))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/v1/admin/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), conversationID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	adminLog(r, h.logger).Info("conversation deleted", zap.String("conversation_id", conversationID))

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	logger.FromContext(r.Context(), h.logger).Error("conversation request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func conversationIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
