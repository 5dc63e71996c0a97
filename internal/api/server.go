package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/propflow/ai-services/internal/agent"
	"github.com/propflow/ai-services/internal/chatbot"
	"github.com/propflow/ai-services/internal/config"
	"github.com/propflow/ai-services/internal/storage"
)

const serviceVersion = "1.0.0"

// Server represents the AI services API server
type Server struct {
	config      *config.Config
	router      *chatbot.Router
	store       storage.ConversationStore
	suggestions agent.SuggestionsProvider
	auth        *BearerAuth
	upgrader    websocket.Upgrader
	httpServer  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, router *chatbot.Router, store storage.ConversationStore, suggestions agent.SuggestionsProvider) *Server {
	return &Server{
		config:      cfg,
		router:      router,
		store:       store,
		suggestions: suggestions,
		auth:        NewBearerAuth(cfg.Server.AuthToken),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.Server.AllowedOrigins),
		},
	}
}

// originChecker allows websocket upgrades from the configured origins.
// Requests without an Origin header (non-browser clients) are allowed.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		allowed[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowed[origin]
	}
}

// Start starts the API server
func (s *Server) Start() error {
	handler := s.Handler()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	log.Printf("Starting API server on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the full HTTP handler, routes wrapped with CORS
func (s *Server) Handler() http.Handler {
	router := s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return c.Handler(router)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Root and service health (public)
	router.HandleFunc("/", s.handleRoot).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Chatbot health probe and WebSocket chat (public, matching the
	// platform gateway which terminates auth for these)
	api.HandleFunc("/chatbot/health", s.handleChatbotHealth).Methods("GET")
	api.HandleFunc("/chatbot/ws/{userId}", s.handleChatWebSocket)

	// Chatbot endpoints (bearer auth)
	protected := api.PathPrefix("/chatbot").Subrouter()
	protected.Use(s.auth.Middleware)
	protected.HandleFunc("/chat", s.handleChat).Methods("POST")
	protected.HandleFunc("/conversations/{id}/history", s.handleConversationHistory).Methods("GET")
	protected.HandleFunc("/conversations", s.handleListConversations).Methods("GET")
	protected.HandleFunc("/suggestions", s.handleSuggestions).Methods("GET")
	protected.HandleFunc("/voice", s.handleVoice).Methods("POST")

	return router
}

// Response helpers
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleRoot returns service metadata
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"message": "PropFlow AI Services",
		"version": serviceVersion,
		"health":  "/api/v1/health",
	})
}

// handleHealth is the service-level health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.store.GetStats(r.Context())

	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "ai-services",
		"version":   serviceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"storage":   "connected",
	}
	if err != nil {
		health["status"] = "unhealthy"
		health["storage"] = "disconnected"
	}

	s.writeJSON(w, health)
}
