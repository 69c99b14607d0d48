package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-engine/internal/flow"
)

func (s *Server) handleScoreStandalone(w http.ResponseWriter, r *http.Request) {
	var req flow.StandaloneRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "subject_id is required")
		return
	}
	if !authorizeSubject(w, r, req.SubjectID) {
		return
	}

	res, err := s.engine.ScoreStandalone(r.Context(), req)
	if err != nil {
		respondServiceError(w, err, "score questionnaire")
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "subject_id query parameter is required")
		return
	}
	if !authorizeSubject(w, r, subjectID) {
		return
	}

	limit, offset := pagination(r, 50)
	results, err := s.engine.ListResults(r.Context(), subjectID, limit, offset)
	if err != nil {
		respondServiceError(w, err, "list results")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "subject_id query parameter is required")
		return
	}
	if !authorizeSubject(w, r, subjectID) {
		return
	}

	res, err := s.engine.GetResult(r.Context(), chi.URLParam(r, "id"), subjectID)
	if err != nil {
		respondServiceError(w, err, "get result")
		return
	}

	respondJSON(w, http.StatusOK, res)
}
