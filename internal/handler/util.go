package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/middleware"
	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &model.ErrorEvent{Error: message})
}

// queryInt reads a non-negative integer query parameter, returning def when
// it is absent or invalid.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// adminLog returns the request logger tagged with the authenticated admin.
func adminLog(r *http.Request, fallback *logger.Logger) *logger.Logger {
	ctx := r.Context()
	return logger.FromContext(ctx, fallback).With(zap.String("admin", middleware.GetSubject(ctx)))
}
