package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

// statusFor maps a shopping error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shopping.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, shopping.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, shopping.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, shopping.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shopping.ErrConnection):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	level := slog.LevelInfo
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", code,
		"error", err,
	)
	respondWithError(w, code, err.Error())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error preparing response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
