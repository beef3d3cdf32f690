package routes

import (
	"github.com/Dosada05/code-arena/handlers"
	"github.com/Dosada05/code-arena/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

func SetupRoutes(
	router *chi.Mux,
	authHandler *handlers.AuthHandler,
	roomHandler *handlers.RoomHandler,
	battleHandler *handlers.BattleHandler,
	matchHandler *handlers.MatchHandler,
	webSocketHandler *handlers.WebSocketHandler,
	jwtSecret string,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	router.Post("/auth/register", authHandler.Register)
	router.Post("/auth/login", authHandler.Login)

	router.Route("/rooms", func(r chi.Router) {
		// Все операции с комнатами требуют аутентификации,
		// включая просмотр списка: зритель тоже пользователь.
		r.Use(middleware.Authenticate(jwtSecret))

		r.Get("/", roomHandler.List)
		r.Post("/", roomHandler.Create)
		r.Get("/{roomID}", roomHandler.Get)
		r.Post("/{roomID}/join", roomHandler.Join)
		r.Post("/{roomID}/leave", roomHandler.Leave)
		r.Post("/{roomID}/ready", roomHandler.ToggleReady)
		r.Put("/{roomID}/settings", roomHandler.UpdateSettings)
		r.Put("/{roomID}/code", roomHandler.UpdateCode)
		r.Post("/{roomID}/chat", roomHandler.Chat)
		r.Post("/{roomID}/cancel", roomHandler.Cancel)
		r.Post("/{roomID}/spectate", roomHandler.Spectate)

		r.Get("/{roomID}/status", battleHandler.Status)
		r.Post("/{roomID}/submissions", battleHandler.Submit)
		r.Post("/{roomID}/force-end", battleHandler.ForceEnd)
	})

	router.Route("/matches", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))
		r.Get("/{matchID}", matchHandler.Get)
	})

	router.Route("/users", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))
		r.Get("/{userID}/matches", matchHandler.ListByUser)
	})

	// Токен для WebSocket передаётся query-параметром, middleware это умеет.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))
		r.Get("/rooms/{roomID}", webSocketHandler.ServeWs)
	})
}
