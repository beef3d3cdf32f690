package handlers

import (
	"net/http"

	"github.com/Dosada05/code-arena/middleware"
	"github.com/Dosada05/code-arena/services"
	"github.com/go-chi/chi/v5"
)

type BattleHandler struct {
	rooms *services.RoomService
}

func NewBattleHandler(rooms *services.RoomService) *BattleHandler {
	return &BattleHandler{rooms: rooms}
}

func (h *BattleHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	submission, err := h.rooms.Submit(r.Context(), chi.URLParam(r, "roomID"), userID, input.Code, input.Language)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"submission": submission}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *BattleHandler) ForceEnd(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	if err := h.rooms.ForceEnd(r.Context(), chi.URLParam(r, "roomID"), userID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": "battle ended"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *BattleHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.rooms.Status(chi.URLParam(r, "roomID"))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"battle": status}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
