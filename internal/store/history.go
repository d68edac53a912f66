package store

import (
	"context"
	"database/sql"

	"github.com/rahul/planloop/internal/llm"
)

// HistoryStore keeps the conversation of each chat so a new message can be
// planned against everything said before it.
type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{DB: db}
}

func (h *HistoryStore) AddMessage(ctx context.Context, chatID string, role string, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := h.DB.ExecContext(ctx, query, chatID, role, content)
	return err
}

// GetHistory returns the last limit messages of chatID, oldest first.
func (h *HistoryStore) GetHistory(ctx context.Context, chatID string, limit int) ([]llm.Message, error) {
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llm.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		switch role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
		default:
			role = llm.RoleUser
		}
		history = append(history, llm.Message{Role: role, Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func (h *HistoryStore) ClearHistory(ctx context.Context, chatID string) error {
	_, err := h.DB.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}
