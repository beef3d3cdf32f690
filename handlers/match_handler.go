package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Dosada05/code-arena/services"
	"github.com/go-chi/chi/v5"
)

const defaultMatchHistoryLimit = 20

var errInvalidLimit = errors.New("limit must be an integer between 1 and 100")

type MatchHandler struct {
	settlement *services.SettlementService
}

func NewMatchHandler(settlement *services.SettlementService) *MatchHandler {
	return &MatchHandler{settlement: settlement}
}

func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.Atoi(chi.URLParam(r, "matchID"))
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.settlement.GetMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	limit := defaultMatchHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			badRequestResponse(w, r, errInvalidLimit)
			return
		}
		limit = parsed
	}

	matches, err := h.settlement.ListUserMatches(r.Context(), userID, limit)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
