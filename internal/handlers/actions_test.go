package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"devconnector-chat/internal/models"
	"devconnector-chat/internal/repositories"
)

type fakeCaller struct {
	user   models.User
	frames []any
}

func (c *fakeCaller) User() models.User { return c.user }

func (c *fakeCaller) SendJSON(v any) bool {
	c.frames = append(c.frames, v)
	return true
}

func frame(action, payload string) models.InboundFrame {
	f := models.InboundFrame{Action: action}
	if payload != "" {
		f.Message = json.RawMessage(payload)
	}
	return f
}

func TestDispatchNewChatEchoesToCaller(t *testing.T) {
	handler, deps := newChatDeps()
	dispatcher := NewActionDispatcher(handler)
	caller := &fakeCaller{user: alice}
	msg := models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Text: "hi", Time: t0}

	deps.users.On("GetUser", mock.Anything, "bob").Return(bob, nil).Once()
	deps.chats.On("CreateChatWithMessage", mock.Anything, models.ChatTypePrivate, []string{"alice", "bob"}, "alice", "hi").
		Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, msg, nil).Once()
	deps.registry.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(3)

	dispatcher.dispatch(context.Background(), caller, frame(models.ActionNewChat, `{"receiver_id":"bob","text":"hi"}`))

	require.Equal(t, []any{models.NewChatMessageEvent(msg)}, caller.frames)
	deps.assertExpectations(t)
}

func TestDispatchSendMessage(t *testing.T) {
	handler, deps := newChatDeps()
	dispatcher := NewActionDispatcher(handler)
	caller := &fakeCaller{user: alice}
	msg := models.Message{ID: "m2", ChatID: "c1", SenderID: "alice", Text: "yo", Time: t0}

	deps.chats.On("GetChat", mock.Anything, "c1").Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, nil).Once()
	deps.messages.On("CreateMessage", mock.Anything, "c1", "alice", "yo").Return(msg, nil).Once()
	deps.registry.On("Publish", mock.Anything, "bob", chatMessageFor("c1")).Return(nil).Once()

	dispatcher.dispatch(context.Background(), caller,
		frame(models.ActionSendMessage, `{"chat_id":"c1","sender_id":"alice","receiver_id":"bob","text":"yo"}`))

	require.Equal(t, []any{models.NewChatMessageEvent(msg)}, caller.frames)
	deps.assertExpectations(t)
}

func TestDispatchSendMessageToSelfIsRejected(t *testing.T) {
	handler, deps := newChatDeps()
	caller := &fakeCaller{user: alice}

	NewActionDispatcher(handler).dispatch(context.Background(), caller,
		frame(models.ActionSendMessage, `{"chat_id":"c1","sender_id":"alice","receiver_id":"alice","text":"me again"}`))

	require.Equal(t, []any{models.ErrorFrame{Action: models.ActionError, For: models.ActionSendMessage, Error: ErrSelfChat.Error()}}, caller.frames)
	deps.registry.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	deps.assertExpectations(t)
}

func TestDispatchRejectsImpersonation(t *testing.T) {
	cases := map[string]models.InboundFrame{
		"new_chat":       frame(models.ActionNewChat, `{"sender_id":"mallory","receiver_id":"bob","text":"hi"}`),
		"send_message":   frame(models.ActionSendMessage, `{"chat_id":"c1","sender_id":"mallory","receiver_id":"bob","text":"hi"}`),
		"get_user_chats": frame(models.ActionGetUserChats, `{"user_id":"bob"}`),
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			handler, deps := newChatDeps()
			caller := &fakeCaller{user: alice}

			NewActionDispatcher(handler).dispatch(context.Background(), caller, f)

			require.Len(t, caller.frames, 1)
			errFrame, ok := caller.frames[0].(models.ErrorFrame)
			require.True(t, ok)
			assert.Equal(t, models.ActionError, errFrame.Action)
			assert.Equal(t, f.Action, errFrame.For)
			assert.Equal(t, ErrSenderMismatch.Error(), errFrame.Error)
			deps.registry.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDispatchIgnoresUnknownAndMalformed(t *testing.T) {
	cases := map[string]models.InboundFrame{
		"unknown action":    frame("make_coffee", `{}`),
		"not an object":     frame(models.ActionGetMessages, `"c1"`),
		"missing chat id":   frame(models.ActionGetMessages, `{}`),
		"missing text":      frame(models.ActionSendMessage, `{"chat_id":"c1","receiver_id":"bob"}`),
		"missing payload":   frame(models.ActionNewChat, ""),
		"wrong field types": frame(models.ActionNewChat, `{"receiver_id":7,"text":"hi"}`),
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			handler, deps := newChatDeps()
			caller := &fakeCaller{user: alice}

			NewActionDispatcher(handler).dispatch(context.Background(), caller, f)

			require.Empty(t, caller.frames)
			deps.assertExpectations(t)
		})
	}
}

func TestDispatchGetUserChatsDefaultsToCaller(t *testing.T) {
	handler, deps := newChatDeps()
	caller := &fakeCaller{user: alice}
	deps.chats.On("ListChatsForUser", mock.Anything, "alice").Return([]models.Chat{}, nil).Once()

	NewActionDispatcher(handler).dispatch(context.Background(), caller, frame(models.ActionGetUserChats, ""))

	require.Equal(t, []any{models.UserChatsResponse{Action: models.ActionUserChats, Chats: []models.ChatSummary{}}}, caller.frames)
	deps.assertExpectations(t)
}

func TestDispatchGetMessages(t *testing.T) {
	handler, deps := newChatDeps()
	caller := &fakeCaller{user: alice}
	msgs := []models.Message{{ID: "m1", ChatID: "c1", SenderID: "bob", Text: "a", Time: t0}}
	deps.chats.On("GetChat", mock.Anything, "c1").Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, nil).Once()
	deps.messages.On("ListMessages", mock.Anything, "c1").Return(msgs, nil).Once()

	NewActionDispatcher(handler).dispatch(context.Background(), caller, frame(models.ActionGetMessages, `{"chat_id":"c1"}`))

	require.Equal(t, []any{models.ChatMessagesResponse{Action: models.ActionChatMessages, Messages: msgs}}, caller.frames)
	deps.assertExpectations(t)
}

func TestDispatchGetMessagesUnknownChat(t *testing.T) {
	handler, deps := newChatDeps()
	caller := &fakeCaller{user: alice}
	deps.chats.On("GetChat", mock.Anything, "nope").Return(models.Chat{}, repositories.ErrChatNotFound).Once()

	NewActionDispatcher(handler).dispatch(context.Background(), caller, frame(models.ActionGetMessages, `{"chat_id":"nope"}`))

	require.Equal(t, []any{models.ErrorFrame{Action: models.ActionError, For: models.ActionGetMessages, Error: "chat not found"}}, caller.frames)
}

func TestDispatchGetAllUsers(t *testing.T) {
	handler, deps := newChatDeps()
	caller := &fakeCaller{user: alice}
	deps.users.On("ListUsers", mock.Anything).Return([]models.User{alice, bob}, nil).Once()

	NewActionDispatcher(handler).dispatch(context.Background(), caller, frame(models.ActionGetAllUsers, ""))

	require.Equal(t, []any{models.AllUsersResponse{
		Action: models.ActionAllUsers,
		Users:  []models.UserSummary{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}},
	}}, caller.frames)
}

func TestDispatchStoreFailureHidesDetails(t *testing.T) {
	handler, deps := newChatDeps()
	caller := &fakeCaller{user: alice}
	deps.users.On("ListUsers", mock.Anything).Return(([]models.User)(nil), assert.AnError).Once()

	NewActionDispatcher(handler).dispatch(context.Background(), caller, frame(models.ActionGetAllUsers, ""))

	require.Equal(t, []any{models.ErrorFrame{Action: models.ActionError, For: models.ActionGetAllUsers, Error: "internal error"}}, caller.frames)
}
