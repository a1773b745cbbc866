// Package api exposes the scan coordinator over HTTP. It is a thin JSON
// binding of the four operations: start, cancel, progress and params.
// Errors follow a minimal problem-detail shape, application/problem+json
// with a single detail field.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/voenkogel/Nautilus/internal/history"
	"github.com/voenkogel/Nautilus/internal/log"
	"github.com/voenkogel/Nautilus/internal/scan"

	"github.com/google/uuid"
)

// historyLimit caps the history listing; the endpoint is for operators, not
// for pagination-hungry clients.
const historyLimit = 50

// Scanner is the subset of the scan coordinator the API needs.
type Scanner interface {
	Start(ctx context.Context, params map[string]any) error
	Cancel()
	Progress() scan.Progress
	Params() map[string]any
}

type server struct {
	svc     Scanner
	history *history.Store
}

// New builds the HTTP handler. history may be nil, which disables the
// history endpoint.
func New(svc Scanner, hist *history.Store) http.Handler {
	s := &server{svc: svc, history: hist}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/scan", s.handleStart)
	mux.HandleFunc("DELETE /api/v1/scan", s.handleCancel)
	mux.HandleFunc("GET /api/v1/scan/progress", s.handleProgress)
	mux.HandleFunc("GET /api/v1/scan/params", s.handleParams)
	if hist != nil {
		mux.HandleFunc("GET /api/v1/scan/history", s.handleHistory)
	}
	return withRequestID(mux)
}

// withRequestID tags every request with a fresh id, surfaced both as a
// response header and as a slog attribute on everything logged downstream.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := log.ContextAttrs(r.Context(),
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := decodeParams(r.Body)
	if err != nil {
		writeProblem(ctx, w, http.StatusBadRequest, "decoding scan parameters: "+err.Error())
		return
	}

	if err := s.svc.Start(ctx, params); err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) {
			writeProblem(ctx, w, http.StatusConflict, err.Error())
			return
		}
		writeProblem(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.InfoContext(ctx, "scan start accepted", "params", params)
	writeJSON(ctx, w, http.StatusAccepted, map[string]string{"detail": "scan started"})
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.svc.Cancel()
	slog.InfoContext(ctx, "scan cancel requested")
	writeJSON(ctx, w, http.StatusAccepted, map[string]string{"detail": "cancellation requested"})
}

func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.svc.Progress())
}

func (s *server) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.svc.Params())
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := s.history.Last(ctx, historyLimit)
	if err != nil {
		writeProblem(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(ctx, w, http.StatusOK, entries)
}

// decodeParams reads an optional JSON object. An empty body means no
// parameters, anything else must be a single object.
func decodeParams(body io.Reader) (map[string]any, error) {
	params := map[string]any{}
	dec := json.NewDecoder(body)
	err := dec.Decode(&params)
	if errors.Is(err, io.EOF) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "encoding response failed", "error", err)
	}
}

func writeProblem(ctx context.Context, w http.ResponseWriter, code int, detail string) {
	slog.WarnContext(ctx, "request failed", "status", code, "detail", detail)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"detail": detail}); err != nil {
		slog.ErrorContext(ctx, "encoding problem response failed", "error", err)
	}
}
