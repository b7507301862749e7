package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/bdobrica/Kioku/internal/kioku/character"
	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
	"github.com/bdobrica/Kioku/internal/kioku/session"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *knowledge.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, session.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, character.ErrUnknown),
		errors.Is(err, knowledge.ErrUnknownCharacter):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStorage),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal failure detail from clients.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusServiceUnavailable:
		return "storage temporarily unavailable"
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusForbidden:
		return "session belongs to another user"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error:   publicMessage(status, err),
		TraceID: traceID(r),
	}
	var ve *knowledge.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log(r).Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"err", err,
	)
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, TraceID: traceID(r)})
}
