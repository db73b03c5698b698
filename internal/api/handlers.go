package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/terra-clan/tanda-engine/internal/flow"
	"github.com/terra-clan/tanda-engine/internal/storage"
	"github.com/terra-clan/tanda-engine/internal/tanda"
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

// respondDomainError maps engine errors to HTTP. Unknown errors are logged
// and reported as "failed to <op>".
func respondDomainError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, tanda.ErrTandaNotFound), errors.Is(err, flow.ErrTandaNotFound):
		respondError(w, http.StatusNotFound, "not_found", "tanda not found")
	case errors.Is(err, flow.ErrCompetitionNotFound):
		respondError(w, http.StatusNotFound, "not_found", "live competition not found")
	case errors.Is(err, flow.ErrProfileNotFound):
		respondError(w, http.StatusNotFound, "profile_not_found", err.Error())
	case errors.Is(err, tanda.ErrInvalidScore), errors.Is(err, flow.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, tanda.ErrBlockNotFound),
		errors.Is(err, tanda.ErrJudgeNotOnBlock),
		errors.Is(err, tanda.ErrParticipantNotOnBlock):
		respondError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case errors.Is(err, tanda.ErrVotingClosed):
		respondError(w, http.StatusConflict, "voting_closed", err.Error())
	case errors.Is(err, flow.ErrTandaNotFinished):
		respondError(w, http.StatusConflict, "tanda_not_finished", err.Error())
	case errors.Is(err, storage.ErrStatusConflict):
		respondError(w, http.StatusConflict, "conflict", "tanda changed concurrently, retry")
	default:
		slog.Error("failed to "+op, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var failing []string
	for name, err := range s.registry.HealthCheckAll(r.Context()) {
		if err != nil {
			slog.Warn("dependency not ready", "dependency", name, "error", err)
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready: "+strings.Join(failing, ", "))
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Profile handlers

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list := s.profiles.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": list,
		"total":    len(list),
	})
}
