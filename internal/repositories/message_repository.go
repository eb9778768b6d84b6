package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"devconnector-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const insertMessageQuery = `INSERT INTO messages (id, chat_id, sender_id, text, created_at) VALUES (?, ?, ?, ?, ?)`

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID string, senderID string, text string) (models.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	LatestMessage(ctx context.Context, chatID string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

// CreateMessage stores a message; id and time are assigned here.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID string, senderID string, text string) (models.Message, error) {
	msg := models.Message{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		SenderID: senderID,
		Text:     text,
		Time:     r.now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(insertMessageQuery),
		msg.ID, msg.ChatID, msg.SenderID, msg.Text, msg.Time)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages returns the chat's messages oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(`SELECT id, chat_id, sender_id, text, created_at FROM messages
        WHERE chat_id=? ORDER BY created_at ASC`), chatID)
	return msgs, err
}

// LatestMessage returns the most recent message of a chat.
func (r *MessageRepo) LatestMessage(ctx context.Context, chatID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, r.db.Rebind(`SELECT id, chat_id, sender_id, text, created_at FROM messages
        WHERE chat_id=? ORDER BY created_at DESC LIMIT 1`), chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
