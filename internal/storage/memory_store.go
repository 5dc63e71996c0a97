package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryConversationStore implements ConversationStore in memory. It backs
// tests and deployments without a durable data directory.
type MemoryConversationStore struct {
	conversations map[string]*Conversation
	messages      map[string][]Message
	mu            sync.RWMutex
}

// NewMemoryConversationStore creates an in-memory conversation store
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
	}
}

// Create creates a new conversation
func (s *MemoryConversationStore) Create(ctx context.Context, conversation *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *conversation
	s.conversations[conversation.ID] = &stored
	return nil
}

// Get retrieves a conversation by ID
func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}

	result := *conversation
	return &result, nil
}

// List returns conversation summaries for a user, most recent first
func (s *MemoryConversationStore) List(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summaries []*ConversationSummary
	for _, conversation := range s.conversations {
		if userID != "" && conversation.UserID != userID {
			continue
		}

		summary := &ConversationSummary{
			ID:           conversation.ID,
			Title:        conversation.Title,
			UpdatedAt:    conversation.UpdatedAt,
			MessageCount: conversation.MessageCount,
		}
		for i := len(s.messages[conversation.ID]) - 1; i >= 0; i-- {
			if s.messages[conversation.ID][i].Role == "user" {
				summary.LastMessage = s.messages[conversation.ID][i].Content
				break
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	if offset >= len(summaries) {
		return nil, nil
	}
	summaries = summaries[offset:]
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Delete removes a conversation and its messages
func (s *MemoryConversationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// AppendTurn saves a user message and the assistant response atomically
func (s *MemoryConversationStore) AppendTurn(ctx context.Context, userMessage, assistantMessage *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversationID := userMessage.ConversationID
	s.messages[conversationID] = append(s.messages[conversationID], *userMessage, *assistantMessage)

	if conversation, ok := s.conversations[conversationID]; ok {
		conversation.MessageCount += 2
		conversation.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// GetMessages retrieves messages for a conversation with pagination
func (s *MemoryConversationStore) GetMessages(ctx context.Context, conversationID string, limit, offset int) (*MessageBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	totalCount := len(all)

	if offset > totalCount {
		offset = totalCount
	}
	end := offset + limit
	if end > totalCount {
		end = totalCount
	}

	messages := make([]Message, end-offset)
	copy(messages, all[offset:end])

	batch := &MessageBatch{
		Messages:   messages,
		TotalCount: totalCount,
		HasMore:    end < totalCount,
	}
	if batch.HasMore {
		batch.NextOffset = end
	}
	return batch, nil
}

// GetLatestMessages retrieves the most recent messages in chronological order
func (s *MemoryConversationStore) GetLatestMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	messages := make([]Message, len(all)-start)
	copy(messages, all[start:])
	return messages, nil
}

// GetStats returns storage statistics
func (s *MemoryConversationStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messageCount := 0
	for _, messages := range s.messages {
		messageCount += len(messages)
	}

	return map[string]interface{}{
		"conversations": len(s.conversations),
		"messages":      messageCount,
	}, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryConversationStore) Close() error {
	return nil
}
