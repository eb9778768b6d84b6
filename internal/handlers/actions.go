package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"devconnector-chat/internal/models"
	"devconnector-chat/internal/observability"
	"devconnector-chat/internal/telemetry"
	"devconnector-chat/internal/ws"
)

// Caller is the session an action arrived on.
type Caller interface {
	User() models.User
	SendJSON(v any) bool
}

type actionFunc func(ctx context.Context, caller Caller, payload json.RawMessage) error

type newChatRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	SenderID   string `json:"sender_id"`
	Text       string `json:"text" validate:"required"`
}

type getUserChatsRequest struct {
	UserID string `json:"user_id"`
}

type getMessagesRequest struct {
	ChatID string `json:"chat_id" validate:"required"`
}

type sendMessageRequest struct {
	ChatID     string `json:"chat_id" validate:"required"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

// ActionDispatcher routes inbound frames to chat actions. Unknown actions
// and undecodable payloads are ignored; other failures are reported to the
// caller with an error frame and never close the session.
type ActionDispatcher struct {
	chat     *ChatHandler
	validate *validator.Validate
	actions  map[string]actionFunc
}

// NewActionDispatcher builds the dispatch table.
func NewActionDispatcher(chat *ChatHandler) *ActionDispatcher {
	d := &ActionDispatcher{chat: chat, validate: validator.New()}
	d.actions = map[string]actionFunc{
		models.ActionNewChat:      d.newChat,
		models.ActionGetUserChats: d.getUserChats,
		models.ActionGetMessages:  d.getMessages,
		models.ActionSendMessage:  d.sendMessage,
		models.ActionGetAllUsers:  d.getAllUsers,
	}
	return d
}

var _ ws.Dispatcher = (*ActionDispatcher)(nil)

// Dispatch implements ws.Dispatcher.
func (d *ActionDispatcher) Dispatch(ctx context.Context, session *ws.Session, frame models.InboundFrame) {
	d.dispatch(ctx, session, frame)
}

func (d *ActionDispatcher) dispatch(ctx context.Context, caller Caller, frame models.InboundFrame) {
	action, ok := d.actions[frame.Action]
	if !ok {
		slog.Debug("ignoring unknown action", "action", frame.Action, "user_id", caller.User().ID)
		observability.IncWSEvent("ws_unknown_action")
		return
	}

	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "devconnector-chat/handlers", "ws.action."+frame.Action,
		attribute.String("chat.action", frame.Action),
		attribute.String("chat.user_id", caller.User().ID),
	)
	defer span.End()

	err := action(ctx, caller, frame.Message)
	switch {
	case err == nil:
		observability.ObserveAction(frame.Action, "ok", started)
	case errors.Is(err, errMalformedPayload):
		observability.ObserveAction(frame.Action, "malformed", started)
		slog.Debug("ignoring malformed payload", "action", frame.Action, "err", err)
	default:
		telemetry.RecordError(span, err)
		observability.ObserveAction(frame.Action, "error", started)
		slog.Warn("action failed", "action", frame.Action, "user_id", caller.User().ID, "err", err)
		caller.SendJSON(models.ErrorFrame{Action: models.ActionError, For: frame.Action, Error: publicError(err)})
	}
}

func (d *ActionDispatcher) newChat(ctx context.Context, caller Caller, payload json.RawMessage) error {
	var req newChatRequest
	if err := d.decode(payload, &req); err != nil {
		return err
	}
	if err := checkSender(caller, req.SenderID); err != nil {
		return err
	}

	msg, err := d.chat.StartChat(ctx, caller.User(), req.ReceiverID, req.Text)
	if err != nil {
		return err
	}
	caller.SendJSON(models.NewChatMessageEvent(msg))
	return nil
}

func (d *ActionDispatcher) getUserChats(ctx context.Context, caller Caller, payload json.RawMessage) error {
	var req getUserChatsRequest
	if err := d.decode(payload, &req); err != nil {
		return err
	}
	if err := checkSender(caller, req.UserID); err != nil {
		return err
	}

	chats, err := d.chat.UserChats(ctx, caller.User().ID)
	if err != nil {
		return err
	}
	caller.SendJSON(models.UserChatsResponse{Action: models.ActionUserChats, Chats: chats})
	return nil
}

func (d *ActionDispatcher) getMessages(ctx context.Context, caller Caller, payload json.RawMessage) error {
	var req getMessagesRequest
	if err := d.decode(payload, &req); err != nil {
		return err
	}

	msgs, err := d.chat.ChatMessages(ctx, caller.User().ID, req.ChatID)
	if err != nil {
		return err
	}
	caller.SendJSON(models.ChatMessagesResponse{Action: models.ActionChatMessages, Messages: msgs})
	return nil
}

func (d *ActionDispatcher) sendMessage(ctx context.Context, caller Caller, payload json.RawMessage) error {
	var req sendMessageRequest
	if err := d.decode(payload, &req); err != nil {
		return err
	}
	if err := checkSender(caller, req.SenderID); err != nil {
		return err
	}

	msg, err := d.chat.SendMessage(ctx, caller.User().ID, req.ChatID, req.ReceiverID, req.Text)
	if err != nil {
		return err
	}
	caller.SendJSON(models.NewChatMessageEvent(msg))
	return nil
}

func (d *ActionDispatcher) getAllUsers(ctx context.Context, caller Caller, _ json.RawMessage) error {
	users, err := d.chat.AllUsers(ctx)
	if err != nil {
		return err
	}
	caller.SendJSON(models.AllUsersResponse{Action: models.ActionAllUsers, Users: users})
	return nil
}

func (d *ActionDispatcher) decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}
	if err := d.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}
	return nil
}

// checkSender accepts an omitted id or the caller's own id.
func checkSender(caller Caller, claimed string) error {
	if claimed != "" && claimed != caller.User().ID {
		return ErrSenderMismatch
	}
	return nil
}
