package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tether/internal/model"
	"github.com/seantiz/tether/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitRequest is the JSON body for POST /v1/requests.
type submitRequest struct {
	Payload json.RawMessage `json:"payload"`
	Mode    string          `json:"mode"`
	Reason  string          `json:"reason"`
}

// cancelAllRequest is the JSON body for DELETE /v1/requests.
type cancelAllRequest struct {
	Reason string `json:"reason"`
}

// listRequestsResponse wraps the paginated list response.
type listRequestsResponse struct {
	Requests []*model.Request `json:"requests"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Mode == "" {
		req.Mode = model.ModeEnqueue
	}
	if !model.ValidMode(req.Mode) {
		s.writeError(w, http.StatusBadRequest, "invalid mode")
		return
	}

	rec, err := s.engine.Submit(r.Context(), req.Payload, req.Mode, req.Reason)
	if err != nil {
		s.logger.Error("submit request", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit request")
		return
	}

	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetRequest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		s.logger.Error("get request", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	requests, total, err := s.store.ListRequests(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list requests", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	if requests == nil {
		requests = []*model.Request{}
	}

	s.writeJSON(w, http.StatusOK, listRequestsResponse{
		Requests: requests,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req cancelAllRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	// The body is optional; absent or empty means cancel with no reason.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.engine.CancelAll(r.Context(), req.Reason); err != nil {
		s.logger.Error("cancel all", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel requests")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) handleRestartWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RestartWorker(r.Context()); err != nil {
		s.logger.Error("restart worker", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to restart worker")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
