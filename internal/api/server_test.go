package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/propflow/ai-services/internal/admission"
	"github.com/propflow/ai-services/internal/agent"
	"github.com/propflow/ai-services/internal/chatbot"
	"github.com/propflow/ai-services/internal/config"
	"github.com/propflow/ai-services/internal/counter"
	"github.com/propflow/ai-services/internal/storage"
)

type fakeDelegate struct {
	reply string
}

func (f *fakeDelegate) Invoke(ctx context.Context, input, userID string, history []storage.Message) (string, error) {
	return f.reply, nil
}

type fakeSuggestions struct {
	suggestions []agent.Suggestion
}

func (f *fakeSuggestions) SuggestionsFor(ctx context.Context, userID string) ([]agent.Suggestion, error) {
	return f.suggestions, nil
}

// newTestServer builds a server over in-memory stores and fake collaborators.
func newTestServer(t *testing.T, threshold int, authToken string) *Server {
	t.Helper()

	counterStore, err := counter.NewInMemoryStore()
	if err != nil {
		t.Fatalf("Failed to open counter store: %v", err)
	}
	t.Cleanup(func() {
		counterStore.Close()
	})

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"http://localhost:3000"},
			AuthToken:      authToken,
		},
	}

	store := storage.NewMemoryConversationStore()
	controller := admission.NewController(counterStore, threshold, time.Minute, time.Second)
	router := chatbot.NewRouter(controller, store,
		&fakeDelegate{reply: "Happy to help."},
		&fakeSuggestions{suggestions: []agent.Suggestion{{Title: "Pay your rent", Type: "payment"}}},
		2*time.Second, 2*time.Second)

	return NewServer(cfg, router, store,
		&fakeSuggestions{suggestions: []agent.Suggestion{{Title: "Pay your rent", Type: "payment"}}})
}

func doRequest(t *testing.T, server *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestChatRequiresAuth(t *testing.T) {
	server := newTestServer(t, 100, "")

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic dXNlcjE="},
		{name: "bare token", header: "user1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/chatbot/chat", bytes.NewReader([]byte(`{"message":"hi"}`)))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			recorder := httptest.NewRecorder()
			server.Handler().ServeHTTP(recorder, req)

			if recorder.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", recorder.Code)
			}
		})
	}
}

func TestSharedSecretAuth(t *testing.T) {
	server := newTestServer(t, 100, "sekret")

	recorder := doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1:sekret", []byte(`{"message":"hi"}`))
	if recorder.Code != http.StatusOK {
		t.Errorf("Expected status 200 for valid token, got %d", recorder.Code)
	}

	recorder = doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1:wrong", []byte(`{"message":"hi"}`))
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for wrong secret, got %d", recorder.Code)
	}
}

func TestChatSuccess(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1", []byte(`{"message":"When is rent due?"}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeJSON(t, recorder)
	if payload["status"] != "success" {
		t.Errorf("Expected status success, got %v", payload["status"])
	}
	if payload["response"] != "Happy to help." {
		t.Errorf("Unexpected response text: %v", payload["response"])
	}
	if payload["conversation_id"] == "" || payload["conversation_id"] == nil {
		t.Error("Expected a conversation_id")
	}
	if _, ok := payload["suggestions"]; !ok {
		t.Error("Expected suggestions on a new conversation")
	}
}

func TestChatBadRequest(t *testing.T) {
	server := newTestServer(t, 100, "")

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"message":`},
		{name: "empty message", body: `{"message":""}`},
		{name: "whitespace message", body: `{"message":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1", []byte(tt.body))
			if recorder.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", recorder.Code)
			}
		})
	}
}

func TestChatRateLimitedStaysHTTP200(t *testing.T) {
	server := newTestServer(t, 1, "")

	recorder := doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1", []byte(`{"message":"one"}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	// Throttling is a semantic outcome, not a transport failure.
	recorder = doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1", []byte(`{"message":"two"}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	payload := decodeJSON(t, recorder)
	if payload["status"] != "rate_limited" {
		t.Errorf("Expected status rate_limited, got %v", payload["status"])
	}
}

func TestConversationHistory(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1", []byte(`{"message":"hi"}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}
	conversationID, _ := decodeJSON(t, recorder)["conversation_id"].(string)
	if conversationID == "" {
		t.Fatal("Expected a conversation_id")
	}

	recorder = doRequest(t, server, "GET", "/api/v1/chatbot/conversations/"+conversationID+"/history", "user1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeJSON(t, recorder)
	if payload["total_count"] != float64(2) {
		t.Errorf("Expected total_count 2, got %v", payload["total_count"])
	}
	if payload["conversation_id"] != conversationID {
		t.Errorf("Expected conversation_id %q, got %v", conversationID, payload["conversation_id"])
	}

	// Another user cannot read it.
	recorder = doRequest(t, server, "GET", "/api/v1/chatbot/conversations/"+conversationID+"/history", "user2", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for foreign conversation, got %d", recorder.Code)
	}

	recorder = doRequest(t, server, "GET", "/api/v1/chatbot/conversations/unknown/history", "user1", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown conversation, got %d", recorder.Code)
	}
}

func TestConversationHistoryInvalidPagination(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "GET", "/api/v1/chatbot/conversations/abc/history?limit=zero", "user1", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad limit, got %d", recorder.Code)
	}

	recorder = doRequest(t, server, "GET", "/api/v1/chatbot/conversations/abc/history?offset=-1", "user1", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad offset, got %d", recorder.Code)
	}
}

func TestListConversations(t *testing.T) {
	server := newTestServer(t, 100, "")

	doRequest(t, server, "POST", "/api/v1/chatbot/chat", "user1", []byte(`{"message":"hi"}`))

	recorder := doRequest(t, server, "GET", "/api/v1/chatbot/conversations", "user1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	payload := decodeJSON(t, recorder)
	if payload["total"] != float64(1) {
		t.Errorf("Expected 1 conversation, got %v", payload["total"])
	}
}

func TestSuggestionsEndpoint(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "GET", "/api/v1/chatbot/suggestions", "user1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	payload := decodeJSON(t, recorder)
	suggestions, ok := payload["suggestions"].([]interface{})
	if !ok || len(suggestions) != 1 {
		t.Errorf("Expected 1 suggestion, got %v", payload["suggestions"])
	}
}

func TestVoiceNotImplemented(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "POST", "/api/v1/chatbot/voice", "user1", []byte(`{}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	payload := decodeJSON(t, recorder)
	if payload["status"] != "not_implemented" {
		t.Errorf("Expected status not_implemented, got %v", payload["status"])
	}
}

func TestServiceHealth(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "GET", "/api/v1/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	payload := decodeJSON(t, recorder)
	if payload["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", payload["status"])
	}
	if payload["service"] != "ai-services" {
		t.Errorf("Expected service ai-services, got %v", payload["service"])
	}
}

func TestChatbotHealthIsPublic(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "GET", "/api/v1/chatbot/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	payload := decodeJSON(t, recorder)
	if payload["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", payload["status"])
	}
}

func TestRootEndpoint(t *testing.T) {
	server := newTestServer(t, 100, "")

	recorder := doRequest(t, server, "GET", "/", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", recorder.Code)
	}

	payload := decodeJSON(t, recorder)
	if payload["message"] != "PropFlow AI Services" {
		t.Errorf("Unexpected root payload: %v", payload)
	}
}
