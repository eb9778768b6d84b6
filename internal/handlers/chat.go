package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"devconnector-chat/internal/middleware"
	"devconnector-chat/internal/models"
	"devconnector-chat/internal/repositories"
	"devconnector-chat/internal/ws"
)

// defaultLookupLimit bounds concurrent gateway calls of one get_user_chats.
const defaultLookupLimit = 8

// ChatHandler implements chat operations shared by the websocket actions
// and the REST endpoints.
type ChatHandler struct {
	userRepo    repositories.UserRepository
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	registry    ws.Registry
	lookupLimit int
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(userRepo repositories.UserRepository, chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, registry ws.Registry) *ChatHandler {
	return &ChatHandler{
		userRepo:    userRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		registry:    registry,
		lookupLimit: defaultLookupLimit,
	}
}

// StartChat creates a private chat between sender and receiverID holding
// text as its first message, then notifies both users.
func (h *ChatHandler) StartChat(ctx context.Context, sender models.User, receiverID, text string) (models.Message, error) {
	if sender.ID == receiverID {
		return models.Message{}, ErrSelfChat
	}
	receiver, err := h.userRepo.GetUser(ctx, receiverID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load receiver: %w", err)
	}

	chat, msg, err := h.chatRepo.CreateChatWithMessage(ctx, models.ChatTypePrivate, []string{sender.ID, receiver.ID}, sender.ID, text)
	if err != nil {
		return models.Message{}, fmt.Errorf("create chat: %w", err)
	}

	h.publish(ctx, receiver.ID, models.NewChatMessageEvent(msg))
	h.publish(ctx, receiver.ID, newChatCreated(chat.ID, sender, msg))
	h.publish(ctx, sender.ID, newChatCreated(chat.ID, receiver, msg))
	return msg, nil
}

// SendMessage stores text in an existing chat and delivers it to the
// receiver's group.
func (h *ChatHandler) SendMessage(ctx context.Context, senderID, chatID, receiverID, text string) (models.Message, error) {
	if senderID == receiverID {
		return models.Message{}, ErrSelfChat
	}
	chat, err := h.chatRepo.GetChat(ctx, chatID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load chat: %w", err)
	}
	if !chat.HasParticipant(senderID) || !chat.HasParticipant(receiverID) {
		return models.Message{}, ErrNotParticipant
	}

	msg, err := h.messageRepo.CreateMessage(ctx, chat.ID, senderID, text)
	if err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	h.publish(ctx, receiverID, models.NewChatMessageEvent(msg))
	return msg, nil
}

// PostMessage stores text in an existing chat and delivers it to every
// participant's group, the sender's included.
func (h *ChatHandler) PostMessage(ctx context.Context, senderID, chatID, text string) (models.Message, error) {
	chat, err := h.chatRepo.GetChat(ctx, chatID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load chat: %w", err)
	}
	if !chat.HasParticipant(senderID) {
		return models.Message{}, ErrNotParticipant
	}

	msg, err := h.messageRepo.CreateMessage(ctx, chat.ID, senderID, text)
	if err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	event := models.NewChatMessageEvent(msg)
	for _, userID := range chat.Participants {
		h.publish(ctx, userID, event)
	}
	return msg, nil
}

// UserChats builds one summary per counterpart of userID. When two chats
// share a counterpart the later chat in listing order wins.
func (h *ChatHandler) UserChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	chats, err := h.chatRepo.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	counterpartIDs := lo.Uniq(lo.FlatMap(chats, func(chat models.Chat, _ int) []string {
		return chat.Counterparts(userID)
	}))

	var mu sync.Mutex
	users := make(map[string]models.User, len(counterpartIDs))
	latest := make([]*models.Message, len(chats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.lookupLimit)
	for _, id := range counterpartIDs {
		g.Go(func() error {
			user, err := h.userRepo.GetUser(gctx, id)
			if errors.Is(err, repositories.ErrUserNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load user %s: %w", id, err)
			}
			mu.Lock()
			users[id] = user
			mu.Unlock()
			return nil
		})
	}
	for i, chat := range chats {
		g.Go(func() error {
			msg, err := h.messageRepo.LatestMessage(gctx, chat.ID)
			if errors.Is(err, repositories.ErrMessageNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("latest message of %s: %w", chat.ID, err)
			}
			latest[i] = &msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]models.ChatSummary, 0, len(counterpartIDs))
	position := make(map[string]int, len(counterpartIDs))
	for i, chat := range chats {
		for _, id := range chat.Counterparts(userID) {
			user, ok := users[id]
			if !ok {
				continue
			}
			summary := models.ChatSummary{ChatID: chat.ID, UserID: user.ID, Name: user.Name}
			if msg := latest[i]; msg != nil {
				summary.LastMessage = msg.Text
				summary.LastMessageTime = &msg.Time
			}
			if pos, seen := position[id]; seen {
				summaries[pos] = summary
				continue
			}
			position[id] = len(summaries)
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

// ChatMessages lists a chat's messages for one of its participants.
func (h *ChatHandler) ChatMessages(ctx context.Context, userID, chatID string) ([]models.Message, error) {
	chat, err := h.chatRepo.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if !chat.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	msgs, err := h.messageRepo.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// AllUsers lists every known user.
func (h *ChatHandler) AllUsers(ctx context.Context) ([]models.UserSummary, error) {
	users, err := h.userRepo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return lo.Map(users, func(u models.User, _ int) models.UserSummary {
		return models.UserSummary{ID: u.ID, Name: u.Name}
	}), nil
}

// publish fans event out; delivery failures never fail the action.
func (h *ChatHandler) publish(ctx context.Context, userID string, event any) {
	if err := h.registry.Publish(ctx, userID, event); err != nil {
		slog.Warn("fan-out failed", "user_id", userID, "err", err)
	}
}

func newChatCreated(chatID string, counterpart models.User, msg models.Message) models.NewChatCreatedEvent {
	return models.NewChatCreatedEvent{
		Type: models.EventNewChatCreated,
		Chat: models.ChatSummary{
			ChatID:          chatID,
			UserID:          counterpart.ID,
			Name:            counterpart.Name,
			LastMessage:     msg.Text,
			LastMessageTime: &msg.Time,
		},
	}
}

// ListChats returns the authenticated user's chat summaries.
func (h *ChatHandler) ListChats(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	chats, err := h.UserChats(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChatMessages returns the messages of a chat the user belongs to.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	user, _ := middleware.UserFromContext(c)

	msgs, err := h.ChatMessages(c.Request.Context(), user.ID, c.Param("chat_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": publicError(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage stores a chat message and fans it out.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, _ := middleware.UserFromContext(c)
	msg, err := h.PostMessage(c.Request.Context(), user.ID, c.Param("chat_id"), req.Text)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": publicError(err)})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListUsers returns every known user.
func (h *ChatHandler) ListUsers(c *gin.Context) {
	users, err := h.AllUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
