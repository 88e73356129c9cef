package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Message roles. Tool messages record agent tool invocations and are
// excluded from the context reconstructed for the model.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Conversation is a durable, user-owned chat session.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation. Messages are append-only.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ToolName       string    `json:"tool_name,omitempty"`
	ToolArgs       string    `json:"tool_args,omitempty"`
	ToolResult     string    `json:"tool_result,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToolRecord captures one tool invocation for the audit trail. Args and
// Result hold serialized JSON.
type ToolRecord struct {
	Name   string
	Args   string
	Result string
}

// CreateConversation inserts a new conversation for userID.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	c := &Conversation{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now(),
	}
	c.UpdatedAt = c.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns the conversation with the given id if userID
// owns it.
func (s *Store) GetConversation(ctx context.Context, userID, id string) (*Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE id = ? AND user_id = ?`, id, userID))
}

// MostRecentConversation returns userID's most recently updated
// conversation, or ErrNotFound if they have none.
func (s *Store) MostRecentConversation(ctx context.Context, userID string) (*Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY updated_at DESC, rowid DESC LIMIT 1`, userID))
}

func (s *Store) scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

// History returns the most recent limit user/assistant messages of a
// conversation in chronological order. Tool messages are excluded; the
// model context is rebuilt from what the user and assistant actually said.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_name, tool_args, tool_result, created_at
		 FROM messages
		 WHERE conversation_id = ? AND role IN (?, ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		conversationID, RoleUser, RoleAssistant, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// FullHistory returns every message of a conversation in chronological
// order, tool rows included. This is the audit view served by the
// recent-conversation endpoint.
func (s *Store) FullHistory(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_name, tool_args, tool_result, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY created_at, rowid`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("load full history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// AppendExchange atomically records one chat exchange: the user's
// message, one tool message per invocation, and the assistant's reply,
// in that order. The conversation's updated_at advances in the same
// transaction.
func (s *Store) AppendExchange(ctx context.Context, conversationID, userContent string, tools []ToolRecord, assistantContent string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := now()

	insert := func(role, content, toolName, toolArgs, toolResult string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, tool_name, tool_args, tool_result, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			newID(), conversationID, role, content,
			nullable(toolName), nullable(toolArgs), nullable(toolResult), ts)
		return err
	}

	if err := insert(RoleUser, userContent, "", "", ""); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	for _, tr := range tools {
		if err := insert(RoleTool, tr.Result, tr.Name, tr.Args, tr.Result); err != nil {
			return fmt.Errorf("insert tool message: %w", err)
		}
	}
	if err := insert(RoleAssistant, assistantContent, "", "", ""); err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, ts, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

// nullable maps empty strings to NULL so optional tool columns stay NULL
// on plain user/assistant rows.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	msgs := make([]Message, 0)
	for rows.Next() {
		var m Message
		var toolName, toolArgs, toolResult sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&toolName, &toolArgs, &toolResult, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ToolName = toolName.String
		m.ToolArgs = toolArgs.String
		m.ToolResult = toolResult.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
