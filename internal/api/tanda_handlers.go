package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/tanda"
)

func tandaKey(r *http.Request) models.TandaKey {
	return models.TandaKey{
		EventID:           chi.URLParam(r, "eventID"),
		LiveCompetitionID: chi.URLParam(r, "lcID"),
		TandaID:           chi.URLParam(r, "tandaID"),
	}
}

func tandaView(t *models.Tanda, now time.Time) models.TandaView {
	return tanda.View(t, now)
}

func (s *Server) handleGetTanda(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.GetTanda(r.Context(), tandaKey(r))
	if err != nil {
		respondDomainError(w, err, "get tanda")
		return
	}
	if t == nil {
		respondError(w, http.StatusNotFound, "not_found", "tanda not found")
		return
	}

	respondJSON(w, http.StatusOK, tandaView(t, s.now()))
}

type playerOp func(p *tanda.Player, ctx context.Context) (*models.Tanda, error)

// handleTandaControl runs a player operation; inapplicable operations answer
// with the unchanged tanda
func (s *Server) handleTandaControl(name string, op playerOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.players.Player(r.Context(), tandaKey(r))
		if err != nil {
			respondDomainError(w, err, name+" tanda")
			return
		}

		t, err := op(p, r.Context())
		if err != nil {
			respondDomainError(w, err, name+" tanda")
			return
		}

		respondJSON(w, http.StatusOK, tandaView(t, s.now()))
	}
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if judgeID, bound := judgeFromContext(r.Context()); bound {
		if req.JudgeID == "" {
			req.JudgeID = judgeID
		}
		if req.JudgeID != judgeID {
			respondError(w, http.StatusForbidden, "permission_denied", "client may only vote as judge "+judgeID)
			return
		}
	}
	if req.JudgeID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "judge_id is required")
		return
	}
	if req.ParticipantID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "participant_id is required")
		return
	}

	key := tandaKey(r)

	// A watching player must exist so the last vote closes the tanda
	if _, err := s.players.Player(r.Context(), key); err != nil {
		respondDomainError(w, err, "submit score")
		return
	}

	t, err := s.scorer.Submit(r.Context(), key, req)
	if err != nil {
		respondDomainError(w, err, "submit score")
		return
	}

	respondJSON(w, http.StatusOK, tandaView(t, s.now()))
}
