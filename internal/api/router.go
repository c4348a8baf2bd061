package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/models"
)

// NewRouter mounts every chatd route on a chi mux.
func NewRouter(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/v1/auth/login", h.HandleLogin)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.secret))

		r.Route("/v1/chat", func(r chi.Router) {
			r.Get("/ws", h.HandleWebSocket)

			r.Get("/conversations", h.HandleListConversations)
			r.Post("/conversations", h.HandleCreateConversation)
			r.Get("/conversations/{id}", h.HandleGetConversation)
			r.Put("/conversations/{id}/status", h.HandleUpdateConversationStatus)
			r.Post("/conversations/{id}/assign", h.HandleAssignAgent)
			r.Get("/conversations/{id}/messages", h.HandleListMessages)
			r.Post("/conversations/{id}/messages", h.HandleSendMessage)

			r.Get("/chatbots", h.HandleListChatbots)
			r.Get("/chatbots/{id}", h.HandleGetChatbot)
			r.Post("/chatbots/{id}/messages", h.HandleChatbotMessage)

			r.Get("/agents", h.HandleListAgents)
			r.Get("/agents/{id}", h.HandleGetAgent)
			r.Put("/agents/{id}/status", h.HandleSetAgentStatus)

			r.Group(func(r chi.Router) {
				r.Use(RoleMiddleware(models.RoleAdmin, models.RoleSupervisor))
				r.Post("/chatbots", h.HandleCreateChatbot)
				r.Put("/chatbots/{id}", h.HandleUpdateChatbot)
				r.Delete("/chatbots/{id}", h.HandleDeleteChatbot)
			})

			r.Group(func(r chi.Router) {
				r.Use(RoleMiddleware(models.RoleAdmin))
				r.Post("/agents", h.HandleCreateAgent)
				r.Put("/agents/{id}", h.HandleUpdateAgent)
				r.Delete("/agents/{id}", h.HandleDeleteAgent)
			})
		})

		r.Route("/v1/api-keys", func(r chi.Router) {
			r.Use(RoleMiddleware(models.RoleAdmin))
			r.Get("/", h.HandleListAPIKeys)
			r.Post("/", h.HandleCreateAPIKey)
			r.Delete("/{id}", h.HandleDeleteAPIKey)
			r.Post("/{id}/regenerate", h.HandleRegenerateAPIKey)
		})
	})

	// customer-facing routes for the embeddable widget
	r.Route("/v1/widget", func(r chi.Router) {
		r.Use(APIKeyMiddleware(h.db))
		r.Post("/conversations", h.HandleCreateConversation)
		r.Get("/conversations/{id}/messages", h.HandleListMessages)
		r.Post("/conversations/{id}/messages", h.HandleWidgetMessage)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.LogRequest(r.Method, r.URL.Path, status, time.Since(start))
		})
	}
}
