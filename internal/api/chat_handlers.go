package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/propflow/ai-services/internal/chatbot"
	"github.com/propflow/ai-services/internal/storage"
)

// ChatMessageRequest is the POST /chat body
type ChatMessageRequest struct {
	Message        string                 `json:"message"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
}

// ConversationHistoryResponse is the conversation history payload
type ConversationHistoryResponse struct {
	Messages       []storage.Message `json:"messages"`
	TotalCount     int               `json:"total_count"`
	ConversationID string            `json:"conversation_id"`
}

// handleChat handles POST /chatbot/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, "Message is required", http.StatusBadRequest)
		return
	}

	response, err := s.router.Route(r.Context(), chatbot.ChatRequest{
		UserID:         currentUser(r),
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Context:        req.Context,
	})
	if err != nil {
		// Only invalid request shapes reach here; downstream failures
		// are folded into the response status.
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, response)
}

// handleConversationHistory handles GET /chatbot/conversations/{id}/history
func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	conversationID := vars["id"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		offset = parsed
	}

	// A user can only read their own conversations
	conversation, err := s.store.Get(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			s.writeError(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error loading conversation %s: %v", conversationID, err)
		s.writeError(w, "Failed to retrieve conversation history", http.StatusInternalServerError)
		return
	}
	if conversation.UserID != currentUser(r) {
		s.writeError(w, "Conversation not found", http.StatusNotFound)
		return
	}

	batch, err := s.store.GetMessages(r.Context(), conversationID, limit, offset)
	if err != nil {
		log.Printf("Error getting conversation history: %v", err)
		s.writeError(w, "Failed to retrieve conversation history", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, ConversationHistoryResponse{
		Messages:       batch.Messages,
		TotalCount:     batch.TotalCount,
		ConversationID: conversationID,
	})
}

// handleListConversations handles GET /chatbot/conversations
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.List(r.Context(), currentUser(r), 50, 0)
	if err != nil {
		log.Printf("Error listing conversations: %v", err)
		s.writeError(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"conversations": conversations,
		"total":         len(conversations),
	})
}

// handleSuggestions handles GET /chatbot/suggestions
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.suggestions.SuggestionsFor(r.Context(), currentUser(r))
	if err != nil {
		log.Printf("Error getting suggestions: %v", err)
		s.writeError(w, "Failed to get suggestions", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"suggestions": suggestions,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleVoice handles POST /chatbot/voice
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"message": "Voice processing not yet implemented",
		"status":  "not_implemented",
	})
}

// handleChatbotHealth routes a synthetic turn through the full pipeline
func (s *Server) handleChatbotHealth(w http.ResponseWriter, r *http.Request) {
	response, err := s.router.Route(r.Context(), chatbot.ChatRequest{
		UserID:  "health_check",
		Message: "ping",
		Context: map[string]interface{}{"test": true},
	})
	if err != nil {
		s.writeJSON(w, map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"chatbot_status": response.Status,
	})
}
