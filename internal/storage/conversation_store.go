package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/go-libsql"
)

// ErrConversationNotFound is returned when a conversation id is unknown.
// Callers treat this as a soft miss, not a failure.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore interface defines operations for conversation persistence
type ConversationStore interface {
	// Conversations
	Create(ctx context.Context, conversation *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error)
	Delete(ctx context.Context, id string) error

	// Messages
	AppendTurn(ctx context.Context, userMessage, assistantMessage *Message) error
	GetMessages(ctx context.Context, conversationID string, limit, offset int) (*MessageBatch, error)
	GetLatestMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Maintenance
	Close() error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// SQLiteConversationStore implements ConversationStore using SQLite/libsql
type SQLiteConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a new conversation store using SQLite/libsql
func NewConversationStore(dbPath string) (ConversationStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteConversationStore{db: db}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Printf("Conversation store initialized: %s", dbPath)
	return store, nil
}

// initSchema executes the embedded schema
func (s *SQLiteConversationStore) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Create creates a new conversation
func (s *SQLiteConversationStore) Create(ctx context.Context, conversation *Conversation) error {
	query := `INSERT INTO conversations (id, user_id, title, created_at, updated_at, message_count)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		conversation.ID, conversation.UserID, conversation.Title,
		conversation.CreatedAt, conversation.UpdatedAt, conversation.MessageCount)

	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// Get retrieves a conversation by ID
func (s *SQLiteConversationStore) Get(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT id, user_id, title, created_at, updated_at, message_count
	          FROM conversations WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var conversation Conversation
	var title sql.NullString

	err := row.Scan(&conversation.ID, &conversation.UserID, &title,
		&conversation.CreatedAt, &conversation.UpdatedAt, &conversation.MessageCount)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conversation.Title = title.String
	return &conversation, nil
}

// List returns conversation summaries for a user, most recent first
func (s *SQLiteConversationStore) List(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error) {
	query := `
		SELECT c.id, c.title, c.updated_at, c.message_count,
		       COALESCE(m.content, '') as last_message
		FROM conversations c
		LEFT JOIN (
			SELECT DISTINCT conversation_id,
			       FIRST_VALUE(content) OVER (PARTITION BY conversation_id ORDER BY created_at DESC) as content
			FROM messages
			WHERE role = 'user'
		) m ON c.id = m.conversation_id
		WHERE (? = '' OR c.user_id = ?)
		ORDER BY c.updated_at DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		var title, lastMessage sql.NullString

		err := rows.Scan(&summary.ID, &title, &summary.UpdatedAt, &summary.MessageCount, &lastMessage)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		summary.Title = title.String
		summary.LastMessage = lastMessage.String
		conversations = append(conversations, &summary)
	}

	return conversations, nil
}

// Delete deletes a conversation and all its messages
func (s *SQLiteConversationStore) Delete(ctx context.Context, id string) error {
	// CASCADE DELETE handles messages
	query := `DELETE FROM conversations WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return nil
}

// AppendTurn saves a user message and the assistant response in a single
// transaction so a turn is never half-persisted.
func (s *SQLiteConversationStore) AppendTurn(ctx context.Context, userMessage, assistantMessage *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO messages (id, conversation_id, user_id, role, content, created_at, metadata)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, message := range []*Message{userMessage, assistantMessage} {
		var metadataJSON string
		if message.Metadata != nil {
			metadataBytes, err := json.Marshal(message.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadataJSON = string(metadataBytes)
		}

		_, err := tx.ExecContext(ctx, query,
			message.ID, message.ConversationID, message.UserID,
			message.Role, message.Content, message.CreatedAt, metadataJSON)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	return nil
}

// GetMessages retrieves messages for a conversation with pagination
func (s *SQLiteConversationStore) GetMessages(ctx context.Context, conversationID string, limit, offset int) (*MessageBatch, error) {
	countQuery := `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`
	var totalCount int
	err := s.db.QueryRowContext(ctx, countQuery, conversationID).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get message count: %w", err)
	}

	query := `SELECT id, conversation_id, user_id, role, content, created_at, metadata
	          FROM messages WHERE conversation_id = ?
	          ORDER BY created_at ASC
	          LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	batch := &MessageBatch{
		Messages:   messages,
		TotalCount: totalCount,
		HasMore:    offset+len(messages) < totalCount,
	}

	if batch.HasMore {
		batch.NextOffset = offset + len(messages)
	}

	return batch, nil
}

// GetLatestMessages retrieves the most recent messages for a conversation in
// chronological order.
func (s *SQLiteConversationStore) GetLatestMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `SELECT id, conversation_id, user_id, role, content, created_at, metadata
	          FROM messages WHERE conversation_id = ?
	          ORDER BY created_at DESC
	          LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := 0; i < len(messages)/2; i++ {
		j := len(messages) - 1 - i
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var message Message
		var metadataJSON sql.NullString

		err := rows.Scan(&message.ID, &message.ConversationID, &message.UserID,
			&message.Role, &message.Content, &message.CreatedAt, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &message.Metadata); err != nil {
				log.Printf("Warning: failed to unmarshal message metadata: %v", err)
			}
		}

		messages = append(messages, message)
	}
	return messages, nil
}

// GetStats returns storage statistics
func (s *SQLiteConversationStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var conversationCount int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&conversationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation count: %w", err)
	}
	stats["conversations"] = conversationCount

	var messageCount int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&messageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get message count: %w", err)
	}
	stats["messages"] = messageCount

	return stats, nil
}

// Close closes the database connection
func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    message_count INTEGER NOT NULL DEFAULT 0,
    UNIQUE(id)
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant')),
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    metadata TEXT,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
    UNIQUE(id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);

CREATE TRIGGER IF NOT EXISTS update_conversation_modified
    AFTER INSERT ON messages
    FOR EACH ROW
BEGIN
    UPDATE conversations
    SET updated_at = CURRENT_TIMESTAMP,
        message_count = message_count + 1
    WHERE id = NEW.conversation_id;
END;
`
