package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Dosada05/code-arena/middleware"
	"github.com/Dosada05/code-arena/realtime"
	"github.com/Dosada05/code-arena/services"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене здесь должна быть проверка Origin,
		// чтобы разрешать подключения только с доверенных доменов.
		return true // Для разработки разрешаем все
	},
}

type WebSocketHandler struct {
	hub    *realtime.Hub
	rooms  *services.RoomService
	logger *slog.Logger
}

func NewWebSocketHandler(hub *realtime.Hub, rooms *services.RoomService, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		rooms:  rooms,
		logger: logger,
	}
}

// ServeWs обрабатывает WebSocket запросы для конкретной комнаты.
// Клиент подключается к /ws/rooms/{roomID}?token=...
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "Missing roomID", http.StatusBadRequest)
		return
	}

	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Комната должна существовать до апгрейда, иначе отдаём обычную HTTP ошибку.
	if _, err := h.rooms.GetRoom(roomID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader.Upgrade сам отправляет HTTP ошибку клиенту, так что здесь просто логируем.
		h.logger.Error("failed to upgrade websocket connection",
			slog.String("room_id", roomID),
			slog.Any("error", err),
		)
		return
	}

	client := &realtime.Client{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		RoomID: roomID,
		UserID: userID,
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("websocket client registered",
		slog.String("room_id", roomID),
		slog.Int("user_id", userID),
	)
}
