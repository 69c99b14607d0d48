package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/terra-clan/assessment-engine/internal/definitions"
	"github.com/terra-clan/assessment-engine/internal/flow"
	"github.com/terra-clan/assessment-engine/internal/scoring"
	"github.com/terra-clan/assessment-engine/internal/services"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// errorStatuses maps domain errors to responses; the first match wins
var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{flow.ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
	{flow.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{flow.ErrResultNotFound, http.StatusNotFound, "result_not_found"},
	{definitions.ErrDefinitionNotFound, http.StatusNotFound, "definition_not_found"},
	{flow.ErrSessionNotOwned, http.StatusForbidden, "session_not_owned"},
	{flow.ErrSessionAlreadyTerminal, http.StatusConflict, "session_terminal"},
	{flow.ErrDuplicateSubmission, http.StatusConflict, "duplicate_submission"},
	{flow.ErrQuestionnaireNotRequired, http.StatusConflict, "questionnaire_not_required"},
	{definitions.ErrDefinitionLocked, http.StatusConflict, "definition_locked"},
	{definitions.ErrDuplicateCode, http.StatusConflict, "duplicate_code"},
	{services.ErrLockNotAcquired, http.StatusConflict, "session_busy"},
	{definitions.ErrMalformedDefinition, http.StatusUnprocessableEntity, "malformed_definition"},
	{scoring.ErrUnsupportedScaleType, http.StatusUnprocessableEntity, "unsupported_scale_type"},
	{flow.ErrNoApplicableQuestionnaire, http.StatusServiceUnavailable, "no_applicable_questionnaire"},
}

// respondServiceError writes the mapped response for err, or a 500 for
// anything unrecognised.
func respondServiceError(w http.ResponseWriter, err error, action string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			respondError(w, e.status, e.code, err.Error())
			return
		}
	}

	slog.Error("request failed", "action", action, "error", err)
	respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
}

// decodeJSON decodes the request body, writing a 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// pagination reads limit and offset query parameters
func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit, offset := defaultLimit, 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.probes.Check(r.Context())
	for name, result := range report.Checks {
		if result != "ok" {
			slog.Warn("dependency check failed", "dependency", name, "error", result, "status", report.Status)
		}
	}

	if !report.Ready() {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, report)
}
