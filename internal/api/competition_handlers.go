package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/tanda-engine/internal/models"
)

func (s *Server) handleCreateCompetition(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req models.CreateCompetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if len(req.ParticipantIDs) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "participant_ids is required")
		return
	}

	view, err := s.flow.CreateLiveCompetition(r.Context(), eventID, req)
	if err != nil {
		respondDomainError(w, err, "create live competition")
		return
	}

	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListCompetitions(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	list, err := s.repo.ListLiveCompetitions(r.Context(), eventID)
	if err != nil {
		slog.Error("failed to list live competitions", "error", err, "event_id", eventID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list live competitions")
		return
	}
	if list == nil {
		list = []*models.LiveCompetition{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"competitions": list,
		"total":        len(list),
	})
}

func (s *Server) handleGetCompetition(w http.ResponseWriter, r *http.Request) {
	view, err := s.flow.Competition(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "lcID"))
	if err != nil {
		respondDomainError(w, err, "get live competition")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleListTandas(w http.ResponseWriter, r *http.Request) {
	eventID, lcID := chi.URLParam(r, "eventID"), chi.URLParam(r, "lcID")

	lc, err := s.repo.GetLiveCompetition(r.Context(), eventID, lcID)
	if err != nil {
		slog.Error("failed to get live competition", "error", err, "live_competition_id", lcID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list tandas")
		return
	}
	if lc == nil {
		respondError(w, http.StatusNotFound, "not_found", "live competition not found")
		return
	}

	tandas, err := s.repo.ListTandas(r.Context(), eventID, lcID)
	if err != nil {
		slog.Error("failed to list tandas", "error", err, "live_competition_id", lcID)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list tandas")
		return
	}

	phase := models.Phase(r.URL.Query().Get("phase"))
	now := s.now()
	views := make([]models.TandaView, 0, len(tandas))
	for _, t := range tandas {
		if phase != "" && t.Phase != phase {
			continue
		}
		views = append(views, tandaView(t, now))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tandas": views,
		"total":  len(views),
	})
}

// handleRunTransition re-drives the competition flow for a finished tanda
func (s *Server) handleRunTransition(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "tanda index must be a non-negative integer")
		return
	}

	lc, err := s.flow.FinalizeTandaAndCheckTransitions(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "lcID"), index)
	if err != nil {
		respondDomainError(w, err, "apply competition transition")
		return
	}

	respondJSON(w, http.StatusOK, lc)
}
