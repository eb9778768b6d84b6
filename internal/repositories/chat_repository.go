package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"devconnector-chat/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, chatType string, participantIDs []string) (models.Chat, error)
	CreateChatWithMessage(ctx context.Context, chatType string, participantIDs []string, senderID, text string) (models.Chat, models.Message, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db, now: time.Now}
}

// CreateChat stores a chat and its participants atomically.
func (r *ChatRepo) CreateChat(ctx context.Context, chatType string, participantIDs []string) (models.Chat, error) {
	var chat models.Chat
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		chat, err = r.insertChat(ctx, tx, chatType, participantIDs)
		return err
	})
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// CreateChatWithMessage stores a chat, its participants and its first
// message in one transaction, so a chat never exists without the message
// that opened it.
func (r *ChatRepo) CreateChatWithMessage(ctx context.Context, chatType string, participantIDs []string, senderID, text string) (models.Chat, models.Message, error) {
	var (
		chat models.Chat
		msg  models.Message
	)
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if chat, err = r.insertChat(ctx, tx, chatType, participantIDs); err != nil {
			return err
		}
		msg = models.Message{
			ID:       uuid.NewString(),
			ChatID:   chat.ID,
			SenderID: senderID,
			Text:     text,
			Time:     chat.CreatedAt,
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(insertMessageQuery),
			msg.ID, msg.ChatID, msg.SenderID, msg.Text, msg.Time); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Chat{}, models.Message{}, err
	}
	return chat, msg, nil
}

func (r *ChatRepo) insertChat(ctx context.Context, tx *sqlx.Tx, chatType string, participantIDs []string) (models.Chat, error) {
	if len(participantIDs) == 0 {
		return models.Chat{}, errors.New("chat needs participants")
	}
	chat := models.Chat{
		ID:           uuid.NewString(),
		Type:         chatType,
		Participants: dedupe(participantIDs),
		CreatedAt:    r.now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chats (id, type, created_at) VALUES (?, ?, ?)`),
		chat.ID, chat.Type, chat.CreatedAt); err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	for _, userID := range chat.Participants {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chat_participants (chat_id, user_id) VALUES (?, ?)`),
			chat.ID, userID); err != nil {
			return models.Chat{}, fmt.Errorf("insert participant: %w", err)
		}
	}
	return chat, nil
}

// inTx runs fn in a transaction, rolling back when it fails.
func (r *ChatRepo) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetChat fetches a chat by id together with its participants.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, r.db.Rebind(`SELECT id, type, created_at FROM chats WHERE id=?`), chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}

	chats := []models.Chat{chat}
	if err := r.attachParticipants(ctx, chats); err != nil {
		return models.Chat{}, err
	}
	return chats[0], nil
}

// ListChatsForUser returns every chat the user participates in.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	query := `SELECT c.id, c.type, c.created_at FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id
        WHERE p.user_id=?
        ORDER BY c.created_at ASC`
	chats := []models.Chat{}
	if err := r.db.SelectContext(ctx, &chats, r.db.Rebind(query), userID); err != nil {
		return nil, err
	}
	if err := r.attachParticipants(ctx, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *ChatRepo) attachParticipants(ctx context.Context, chats []models.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	ids := make([]string, 0, len(chats))
	index := make(map[string]int, len(chats))
	for i, chat := range chats {
		ids = append(ids, chat.ID)
		index[chat.ID] = i
	}

	query, args, err := sqlx.In(`SELECT chat_id, user_id FROM chat_participants WHERE chat_id IN (?)`, ids)
	if err != nil {
		return err
	}
	var rows []struct {
		ChatID string `db:"chat_id"`
		UserID string `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range rows {
		i := index[row.ChatID]
		chats[i].Participants = append(chats[i].Participants, row.UserID)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
