package chatbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/propflow/ai-services/internal/admission"
	"github.com/propflow/ai-services/internal/agent"
	"github.com/propflow/ai-services/internal/storage"
)

// Turn status values surfaced to clients. Downstream failures are absorbed
// into the status field; the transport succeeds once a request parses.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusRateLimited = "rate_limited"
)

// Fixed user-facing messages. Internal causes are logged, never returned.
const (
	throttleMessage = "You're sending messages too quickly. Please wait a moment before trying again."
	fallbackMessage = "I apologize, but I encountered an error processing your request. Please try again or contact support if the issue persists."
)

// maxSuggestions caps the suggested-action titles attached to the first
// turn of a new conversation.
const maxSuggestions = 3

// Validation errors. These are the only errors Route returns; everything
// downstream is mapped into the response status.
var (
	ErrMissingUser  = errors.New("user id is required")
	ErrEmptyMessage = errors.New("message must not be empty")
)

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	UserID         string
	Message        string
	ConversationID string
	Context        map[string]interface{}
}

// ChatResponse is the assembled result of one turn.
type ChatResponse struct {
	Response       string   `json:"response"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Timestamp      string   `json:"timestamp"`
	Status         string   `json:"status"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// Router resolves a chat request to a conversation, invokes the delegate
// exactly once per admitted turn, persists the exchange best-effort, and
// assembles the response.
type Router struct {
	admission   *admission.Controller
	store       storage.ConversationStore
	delegate    agent.Delegate
	suggestions agent.SuggestionsProvider

	delegateTimeout time.Duration
	persistTimeout  time.Duration

	// appendLocks serializes turn persistence per conversation so two
	// concurrent turns never interleave their writes.
	appendLocks map[string]*sync.Mutex
	mu          sync.Mutex
}

// NewRouter wires the session router with its collaborators.
func NewRouter(ctrl *admission.Controller, store storage.ConversationStore, delegate agent.Delegate, suggestions agent.SuggestionsProvider, delegateTimeout, persistTimeout time.Duration) *Router {
	return &Router{
		admission:       ctrl,
		store:           store,
		delegate:        delegate,
		suggestions:     suggestions,
		delegateTimeout: delegateTimeout,
		persistTimeout:  persistTimeout,
		appendLocks:     make(map[string]*sync.Mutex),
	}
}

// Route processes one chat turn. It returns an error only for an invalid
// request shape; collaborator failures surface through the response status.
func (r *Router) Route(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	// Admission sits strictly before session resolution; a rejected turn
	// never reaches the delegate and persists nothing.
	if r.admission.Admit(ctx, req.UserID) == admission.Reject {
		return &ChatResponse{
			Response:       throttleMessage,
			ConversationID: req.ConversationID,
			Timestamp:      timestamp(),
			Status:         StatusRateLimited,
		}, nil
	}

	conversation, isNew, durable := r.resolveConversation(ctx, req)

	history := r.loadHistory(ctx, conversation, durable)

	input := delegateInput(req)

	output, err := r.invokeDelegate(ctx, input, req.UserID, history)
	if err != nil {
		log.Printf("Delegate failure for user %s: %v", req.UserID, err)
		return &ChatResponse{
			Response:       fallbackMessage,
			ConversationID: conversation.ID,
			Timestamp:      timestamp(),
			Status:         StatusError,
		}, nil
	}

	if durable {
		r.persistTurn(ctx, conversation, req, output)
	}

	response := &ChatResponse{
		Response:       output,
		ConversationID: conversation.ID,
		Timestamp:      timestamp(),
		Status:         StatusSuccess,
	}

	if isNew {
		response.Suggestions = r.suggestionTitles(ctx, req.UserID)
	}

	return response, nil
}

// resolveConversation finds or mints the conversation for this turn. The
// durable flag reports whether the conversation is backed by the store;
// an unknown id yields a transient conversation scoped to this call.
func (r *Router) resolveConversation(ctx context.Context, req ChatRequest) (conversation *storage.Conversation, isNew, durable bool) {
	now := time.Now().UTC()

	if req.ConversationID == "" {
		conversation = &storage.Conversation{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := r.store.Create(ctx, conversation); err != nil {
			log.Printf("Warning: failed to create conversation %s: %v", conversation.ID, err)
			return conversation, true, false
		}
		return conversation, true, true
	}

	existing, err := r.store.Get(ctx, req.ConversationID)
	if err != nil {
		if !errors.Is(err, storage.ErrConversationNotFound) {
			log.Printf("Warning: failed to load conversation %s: %v", req.ConversationID, err)
		}
		return transientConversation(req, now), false, false
	}

	// Conversations belong to one user; a mismatched owner is treated as
	// a miss rather than leaking another user's session.
	if existing.UserID != req.UserID {
		log.Printf("Warning: conversation %s does not belong to user %s", req.ConversationID, req.UserID)
		return transientConversation(req, now), false, false
	}

	return existing, false, true
}

func transientConversation(req ChatRequest, now time.Time) *storage.Conversation {
	return &storage.Conversation{
		ID:        req.ConversationID,
		UserID:    req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// loadHistory fetches recent messages for delegate context, best-effort.
func (r *Router) loadHistory(ctx context.Context, conversation *storage.Conversation, durable bool) []storage.Message {
	if !durable || conversation.MessageCount == 0 {
		return nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	defer cancel()

	history, err := r.store.GetLatestMessages(loadCtx, conversation.ID, 10)
	if err != nil {
		log.Printf("Warning: failed to load history for conversation %s: %v", conversation.ID, err)
		return nil
	}
	return history
}

// delegateInput renders the optional context map into the text blob the
// delegate receives.
func delegateInput(req ChatRequest) string {
	if len(req.Context) == 0 {
		return req.Message
	}

	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		log.Printf("Warning: failed to render request context: %v", err)
		return req.Message
	}

	return fmt.Sprintf("Context: %s\nUser message: %s", contextJSON, req.Message)
}

// invokeDelegate bounds the delegate call with the configured timeout. A
// timeout is indistinguishable from any other delegate failure.
func (r *Router) invokeDelegate(ctx context.Context, input, userID string, history []storage.Message) (string, error) {
	delegateCtx, cancel := context.WithTimeout(ctx, r.delegateTimeout)
	defer cancel()

	return r.delegate.Invoke(delegateCtx, input, userID, history)
}

// persistTurn appends the user message and delegate response to the
// conversation. Appends for one conversation are serialized; failures are
// logged and never alter the already-computed response.
func (r *Router) persistTurn(ctx context.Context, conversation *storage.Conversation, req ChatRequest, output string) {
	lock := r.lockFor(conversation.ID)
	lock.Lock()
	defer lock.Unlock()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	userMessage := &storage.Message{
		ID:             uuid.New().String(),
		ConversationID: conversation.ID,
		UserID:         req.UserID,
		Role:           "user",
		Content:        req.Message,
		CreatedAt:      now,
		Metadata:       req.Context,
	}
	assistantMessage := &storage.Message{
		ID:             uuid.New().String(),
		ConversationID: conversation.ID,
		UserID:         req.UserID,
		Role:           "assistant",
		Content:        output,
		CreatedAt:      now,
	}

	if err := r.store.AppendTurn(persistCtx, userMessage, assistantMessage); err != nil {
		log.Printf("Warning: failed to persist turn for conversation %s: %v", conversation.ID, err)
	}
}

// suggestionTitles queries the suggestions provider for a new conversation.
// Provider errors yield an absent list rather than failing the turn.
func (r *Router) suggestionTitles(ctx context.Context, userID string) []string {
	suggestions, err := r.suggestions.SuggestionsFor(ctx, userID)
	if err != nil {
		log.Printf("Warning: failed to get suggestions for user %s: %v", userID, err)
		return nil
	}
	if len(suggestions) == 0 {
		return nil
	}

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	titles := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		titles = append(titles, s.Title)
	}
	return titles
}

func (r *Router) lockFor(conversationID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.appendLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		r.appendLocks[conversationID] = lock
	}
	return lock
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
