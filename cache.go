package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// historyCache is a best-effort local mirror of the server's conversation
// history, written through on every merge and read back when the initial
// conversation fetch fails transiently. It is never authoritative.
type historyCache struct {
	db *sql.DB
}

func openHistoryCache(path string) (*historyCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %q: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &historyCache{db: db}, nil
}

func (h *historyCache) Close() error {
	return h.db.Close()
}

// replaceAll mirrors a full bootstrap fetch.
func (h *historyCache) replaceAll(conversations []*conversation) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cache replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear cached messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear cached conversations: %w", err)
	}
	for _, conv := range conversations {
		if _, err := tx.Exec(`
			INSERT INTO conversations (conversation_id, name, updated_at)
			VALUES (?, ?, ?)
		`, conv.id, conv.name, conv.updatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("cache conversation %q: %w", conv.id, err)
		}
		for _, msg := range conv.messages {
			if err := insertMessage(tx, msg); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func insertMessage(tx *sql.Tx, msg chatMessage) error {
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO messages (message_id, conversation_id, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("cache message %q: %w", msg.ID, err)
	}
	return nil
}

func (h *historyCache) upsertConversation(conversationID, name string) error {
	_, err := h.db.Exec(`
		INSERT INTO conversations (conversation_id, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`, conversationID, name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert cached conversation %q: %w", conversationID, err)
	}
	return nil
}

// appendMessages inserts a batch, ignoring ids already mirrored.
func (h *historyCache) appendMessages(conversationID string, messages []chatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cache append: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range messages {
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		if err := insertMessage(tx, msg); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET updated_at = ? WHERE conversation_id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), conversationID); err != nil {
		return fmt.Errorf("touch cached conversation %q: %w", conversationID, err)
	}
	return tx.Commit()
}

// deleteConversation removes messages first, then the conversation row,
// matching the collaborator's cascade order.
func (h *historyCache) deleteConversation(conversationID string) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cache delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete cached messages for %q: %w", conversationID, err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete cached conversation %q: %w", conversationID, err)
	}
	return tx.Commit()
}

func (h *historyCache) renameConversation(conversationID, name string) error {
	return h.upsertConversation(conversationID, name)
}

// loadConversations reads the mirrored table, most recently updated first,
// each with its full message log ascending by creation time (message id
// breaks ties for same-instant messages).
func (h *historyCache) loadConversations() ([]*conversation, error) {
	rows, err := h.db.Query(`
		SELECT conversation_id, name, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cached conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*conversation
	for rows.Next() {
		var conv conversation
		var updatedAt string
		if err := rows.Scan(&conv.id, &conv.name, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan cached conversation: %w", err)
		}
		conv.updatedAt = parseCachedTime(updatedAt)
		conversations = append(conversations, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached conversations: %w", err)
	}

	for _, conv := range conversations {
		messages, err := h.loadMessages(conv.id)
		if err != nil {
			return nil, err
		}
		conv.messages = messages
	}
	return conversations, nil
}

func (h *historyCache) loadMessages(conversationID string) ([]chatMessage, error) {
	rows, err := h.db.Query(`
		SELECT message_id, conversation_id, sender, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, message_id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query cached messages for %q: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []chatMessage
	for rows.Next() {
		var msg chatMessage
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan cached message: %w", err)
		}
		msg.CreatedAt = parseCachedTime(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached messages: %w", err)
	}
	return messages, nil
}

func parseCachedTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
