package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-engine/internal/models"
)

type duplicateDefinitionRequest struct {
	Code    string `json:"code"`
	Version string `json:"version"`
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	filters := models.DefinitionFilters{
		Type:   r.URL.Query().Get("type"),
		Status: models.DefinitionStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	defs, err := s.definitions.List(r.Context(), filters)
	if err != nil {
		respondServiceError(w, err, "list definitions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"definitions": defs,
		"total":       len(defs),
	})
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.definitions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err, "get definition")
		return
	}

	respondJSON(w, http.StatusOK, def)
}

// handleSaveDefinition creates (no id) or updates a definition. Either the
// structured fields or yaml_config may be edited; the other side follows.
func (s *Server) handleSaveDefinition(w http.ResponseWriter, r *http.Request) {
	var def models.QuestionnaireDefinition
	if !decodeJSON(w, r, &def) {
		return
	}

	created := def.ID == ""
	saved, err := s.definitions.Save(r.Context(), &def)
	if err != nil {
		respondServiceError(w, err, "save definition")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, saved)
}

func (s *Server) handleActivateDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.definitions.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err, "activate definition")
		return
	}

	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeactivateDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.definitions.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err, "deactivate definition")
		return
	}

	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleDuplicateDefinition(w http.ResponseWriter, r *http.Request) {
	var req duplicateDefinitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	def, err := s.definitions.Duplicate(r.Context(), chi.URLParam(r, "id"), req.Code, req.Version)
	if err != nil {
		respondServiceError(w, err, "duplicate definition")
		return
	}

	respondJSON(w, http.StatusCreated, def)
}
