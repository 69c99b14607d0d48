package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-engine/internal/flow"
)

type startAssessmentRequest struct {
	SubjectID string `json:"subject_id"`
}

type submitAnswerRequest struct {
	SubjectID         string    `json:"subject_id"`
	QuestionnaireType string    `json:"questionnaire_type"`
	DefinitionID      string    `json:"definition_id"`
	SelectedOptions   []int     `json:"selected_options"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
}

type abandonRequest struct {
	SubjectID string `json:"subject_id"`
}

func (s *Server) handleStartAssessment(w http.ResponseWriter, r *http.Request) {
	var req startAssessmentRequest
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

	res, err := s.engine.Start(r.Context(), req.SubjectID)
	if err != nil {
		respondServiceError(w, err, "start assessment")
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
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
	if req.QuestionnaireType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "questionnaire_type is required")
		return
	}

	res, err := s.engine.SubmitAnswer(r.Context(), flow.SubmitRequest{
		SessionID:         chi.URLParam(r, "id"),
		SubjectID:         req.SubjectID,
		QuestionnaireType: req.QuestionnaireType,
		DefinitionID:      req.DefinitionID,
		SelectedOptions:   req.SelectedOptions,
		StartedAt:         req.StartedAt,
		CompletedAt:       req.CompletedAt,
	})
	if err != nil {
		respondServiceError(w, err, "submit answer")
		return
	}

	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "subject_id query parameter is required")
		return
	}
	if !authorizeSubject(w, r, subjectID) {
		return
	}

	res, err := s.engine.GetSessionResult(r.Context(), chi.URLParam(r, "id"), subjectID)
	if err != nil {
		respondServiceError(w, err, "get assessment")
		return
	}

	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAbandonAssessment(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
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

	session, err := s.engine.Abandon(r.Context(), chi.URLParam(r, "id"), req.SubjectID)
	if err != nil {
		respondServiceError(w, err, "abandon assessment")
		return
	}

	respondJSON(w, http.StatusOK, session)
}
