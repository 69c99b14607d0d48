package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-engine/internal/models"
)

type profileRequest struct {
	Education string `json:"education"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	if !authorizeSubject(w, r, subjectID) {
		return
	}

	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Age < 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "age must not be negative")
		return
	}

	profile := &models.SubjectProfile{
		SubjectID: subjectID,
		Education: req.Education,
		Age:       req.Age,
		Gender:    req.Gender,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.UpsertProfile(r.Context(), profile); err != nil {
		respondServiceError(w, err, "save profile")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}
