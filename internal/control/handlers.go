package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// OverrideRequest sets the override window end.
type OverrideRequest struct {
	Until time.Time `json:"until"`
}

// GrantRequest exempts the app for a number of minutes from now.
type GrantRequest struct {
	Minutes int `json:"minutes"`
}

// OverrideResponse reports the stored override window end.
type OverrideResponse struct {
	Until *time.Time `json:"until"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	report, err := s.usage.Usage(r.Context())
	if err != nil {
		s.logger.Error("failed to read usage", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Usage ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Body must be {\"until\": RFC3339 timestamp}")
		return
	}
	if err := s.usage.SetOverrideUntil(r.Context(), req.Until); err != nil {
		s.logger.Error("failed to set override", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Usage ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, overrideResponse(req.Until))
}

func (s *Server) handleGrantOverride(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Body must be {\"minutes\": N}")
		return
	}
	if req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "minutes must be positive")
		return
	}
	until, err := s.usage.GrantOverride(r.Context(), time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		s.logger.Error("failed to grant override", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Usage ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, overrideResponse(until))
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.usage.ClearOverride(r.Context()); err != nil {
		s.logger.Error("failed to clear override", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Usage ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, OverrideResponse{})
}

func overrideResponse(until time.Time) OverrideResponse {
	if until.IsZero() {
		return OverrideResponse{}
	}
	return OverrideResponse{Until: &until}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
