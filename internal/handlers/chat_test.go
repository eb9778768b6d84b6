package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"devconnector-chat/internal/middleware"
	"devconnector-chat/internal/mocks"
	"devconnector-chat/internal/models"
	"devconnector-chat/internal/repositories"
	"devconnector-chat/internal/ws"
)

var (
	alice = models.User{ID: "alice", Name: "Alice", Email: "alice@example.com"}
	bob   = models.User{ID: "bob", Name: "Bob", Email: "bob@example.com"}
	t0    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type chatDeps struct {
	users    *mocks.UserRepositoryMock
	chats    *mocks.ChatRepositoryMock
	messages *mocks.MessageRepositoryMock
	registry *mocks.RegistryMock
}

func newChatDeps() (*ChatHandler, chatDeps) {
	deps := chatDeps{
		users:    new(mocks.UserRepositoryMock),
		chats:    new(mocks.ChatRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		registry: new(mocks.RegistryMock),
	}
	return NewChatHandler(deps.users, deps.chats, deps.messages, deps.registry), deps
}

func (d chatDeps) assertExpectations(t *testing.T) {
	d.users.AssertExpectations(t)
	d.chats.AssertExpectations(t)
	d.messages.AssertExpectations(t)
	d.registry.AssertExpectations(t)
}

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserContextKey, alice)
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.GET("/chats/:chat_id/messages", handler.GetChatMessages)
	r.POST("/chats/:chat_id/messages", handler.PostChatMessage)
	r.GET("/users", handler.ListUsers)
	return r
}

func chatMessageFor(chatID string) any {
	return mock.MatchedBy(func(e models.ChatMessageEvent) bool {
		return e.Type == models.EventChatMessage && e.Message.ChatID == chatID
	})
}

func chatCreatedWith(counterpartID string) any {
	return mock.MatchedBy(func(e models.NewChatCreatedEvent) bool {
		return e.Type == models.EventNewChatCreated && e.Chat.UserID == counterpartID
	})
}

func TestListChatsSuccess(t *testing.T) {
	handler, deps := newChatDeps()
	router := setupChatRouter(handler)

	deps.chats.On("ListChatsForUser", mock.Anything, "alice").
		Return([]models.Chat{{ID: "c1", Type: models.ChatTypePrivate, Participants: []string{"alice", "bob"}}}, nil).Once()
	deps.users.On("GetUser", mock.Anything, "bob").Return(bob, nil).Once()
	deps.messages.On("LatestMessage", mock.Anything, "c1").
		Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "bob", Text: "yo", Time: t0}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, "c1", resp.Chats[0].ChatID)
	assert.Equal(t, "Bob", resp.Chats[0].Name)
	assert.Equal(t, "yo", resp.Chats[0].LastMessage)
	deps.assertExpectations(t)
}

func TestListChatsRepoError(t *testing.T) {
	handler, deps := newChatDeps()
	router := setupChatRouter(handler)

	deps.chats.On("ListChatsForUser", mock.Anything, "alice").Return(([]models.Chat)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	deps.assertExpectations(t)
}

func TestUserChatsCollapsesCounterpartsAndSkipsUnknownUsers(t *testing.T) {
	handler, deps := newChatDeps()

	deps.chats.On("ListChatsForUser", mock.Anything, "alice").Return([]models.Chat{
		{ID: "c1", Participants: []string{"alice", "bob"}},
		{ID: "c2", Participants: []string{"bob", "alice"}},
		{ID: "c3", Participants: []string{"alice", "ghost"}},
	}, nil).Once()
	deps.users.On("GetUser", mock.Anything, "bob").Return(bob, nil).Once()
	deps.users.On("GetUser", mock.Anything, "ghost").Return(models.User{}, repositories.ErrUserNotFound).Once()
	deps.messages.On("LatestMessage", mock.Anything, "c1").Return(models.Message{ChatID: "c1", Text: "old", Time: t0}, nil).Once()
	deps.messages.On("LatestMessage", mock.Anything, "c2").Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	deps.messages.On("LatestMessage", mock.Anything, "c3").Return(models.Message{ChatID: "c3", Text: "boo", Time: t0}, nil).Once()

	chats, err := handler.UserChats(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []models.ChatSummary{{ChatID: "c2", UserID: "bob", Name: "Bob"}}, chats)
	deps.assertExpectations(t)
}

func TestUserChatsEmpty(t *testing.T) {
	handler, deps := newChatDeps()
	deps.chats.On("ListChatsForUser", mock.Anything, "alice").Return([]models.Chat{}, nil).Once()

	chats, err := handler.UserChats(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, chats)
	require.NotNil(t, chats)
}

func TestUserChatsLookupFailure(t *testing.T) {
	handler, deps := newChatDeps()
	deps.chats.On("ListChatsForUser", mock.Anything, "alice").
		Return([]models.Chat{{ID: "c1", Participants: []string{"alice", "bob"}}}, nil).Once()
	deps.users.On("GetUser", mock.Anything, "bob").Return(models.User{}, assert.AnError).Once()
	deps.messages.On("LatestMessage", mock.Anything, "c1").Return(models.Message{}, repositories.ErrMessageNotFound).Maybe()

	_, err := handler.UserChats(context.Background(), "alice")
	require.ErrorIs(t, err, assert.AnError)
}

func TestStartChatNotifiesBothUsers(t *testing.T) {
	handler, deps := newChatDeps()
	msg := models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Text: "hi", Time: t0}

	deps.users.On("GetUser", mock.Anything, "bob").Return(bob, nil).Once()
	deps.chats.On("CreateChatWithMessage", mock.Anything, models.ChatTypePrivate, []string{"alice", "bob"}, "alice", "hi").
		Return(models.Chat{ID: "c1", Type: models.ChatTypePrivate, Participants: []string{"alice", "bob"}}, msg, nil).Once()
	deps.registry.On("Publish", mock.Anything, "bob", chatMessageFor("c1")).Return(nil).Once()
	deps.registry.On("Publish", mock.Anything, "bob", chatCreatedWith("alice")).Return(nil).Once()
	deps.registry.On("Publish", mock.Anything, "alice", chatCreatedWith("bob")).Return(nil).Once()

	got, err := handler.StartChat(context.Background(), alice, "bob", "hi")
	require.NoError(t, err)
	require.Equal(t, msg, got)
	deps.assertExpectations(t)
}

func TestStartChatRejectsSelf(t *testing.T) {
	handler, deps := newChatDeps()

	_, err := handler.StartChat(context.Background(), alice, "alice", "hi")
	require.ErrorIs(t, err, ErrSelfChat)
	deps.chats.AssertNotCalled(t, "CreateChatWithMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartChatUnknownReceiver(t *testing.T) {
	handler, deps := newChatDeps()
	deps.users.On("GetUser", mock.Anything, "ghost").Return(models.User{}, repositories.ErrUserNotFound).Once()

	_, err := handler.StartChat(context.Background(), alice, "ghost", "hi")
	require.ErrorIs(t, err, repositories.ErrUserNotFound)
	deps.chats.AssertNotCalled(t, "CreateChatWithMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	deps.registry.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartChatStoreFailurePublishesNothing(t *testing.T) {
	handler, deps := newChatDeps()
	deps.users.On("GetUser", mock.Anything, "bob").Return(bob, nil).Once()
	deps.chats.On("CreateChatWithMessage", mock.Anything, models.ChatTypePrivate, []string{"alice", "bob"}, "alice", "hi").
		Return(models.Chat{}, models.Message{}, assert.AnError).Once()

	_, err := handler.StartChat(context.Background(), alice, "bob", "hi")
	require.ErrorIs(t, err, assert.AnError)
	deps.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	deps.registry.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	deps.assertExpectations(t)
}

func TestSendMessageDeliversToReceiver(t *testing.T) {
	handler, deps := newChatDeps()
	msg := models.Message{ID: "m2", ChatID: "c1", SenderID: "alice", Text: "again", Time: t0}

	deps.chats.On("GetChat", mock.Anything, "c1").Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, nil).Once()
	deps.messages.On("CreateMessage", mock.Anything, "c1", "alice", "again").Return(msg, nil).Once()
	deps.registry.On("Publish", mock.Anything, "bob", chatMessageFor("c1")).Return(nil).Once()

	got, err := handler.SendMessage(context.Background(), "alice", "c1", "bob", "again")
	require.NoError(t, err)
	require.Equal(t, msg, got)
	deps.assertExpectations(t)
}

func TestSendMessageFanoutFailureStillSucceeds(t *testing.T) {
	handler, deps := newChatDeps()

	deps.chats.On("GetChat", mock.Anything, "c1").Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, nil).Once()
	deps.messages.On("CreateMessage", mock.Anything, "c1", "alice", "x").Return(models.Message{ID: "m3", ChatID: "c1"}, nil).Once()
	deps.registry.On("Publish", mock.Anything, "bob", mock.Anything).Return(assert.AnError).Once()

	_, err := handler.SendMessage(context.Background(), "alice", "c1", "bob", "x")
	require.NoError(t, err)
	deps.assertExpectations(t)
}

func TestSendMessageRejectsOutsiders(t *testing.T) {
	cases := map[string]struct {
		sender   string
		receiver string
	}{
		"sender outside chat":   {sender: "carol", receiver: "bob"},
		"receiver outside chat": {sender: "alice", receiver: "carol"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler, deps := newChatDeps()
			deps.chats.On("GetChat", mock.Anything, "c1").Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, nil).Once()

			_, err := handler.SendMessage(context.Background(), tc.sender, "c1", tc.receiver, "x")
			require.ErrorIs(t, err, ErrNotParticipant)
			deps.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSendMessageRejectsSelf(t *testing.T) {
	handler, deps := newChatDeps()

	_, err := handler.SendMessage(context.Background(), "alice", "c1", "alice", "echo")
	require.ErrorIs(t, err, ErrSelfChat)
	deps.chats.AssertNotCalled(t, "GetChat", mock.Anything, mock.Anything)
	deps.messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	deps.registry.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetChatMessagesSuccess(t *testing.T) {
	handler, deps := newChatDeps()
	router := setupChatRouter(handler)

	deps.chats.On("GetChat", mock.Anything, "c1").Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, nil).Once()
	deps.messages.On("ListMessages", mock.Anything, "c1").Return([]models.Message{
		{ID: "m1", ChatID: "c1", SenderID: "alice", Text: "a", Time: t0},
		{ID: "m2", ChatID: "c1", SenderID: "bob", Text: "b", Time: t0.Add(time.Second)},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	deps.assertExpectations(t)
}

func TestGetChatMessagesErrors(t *testing.T) {
	cases := map[string]struct {
		chat   models.Chat
		err    error
		status int
	}{
		"unknown chat":    {err: repositories.ErrChatNotFound, status: http.StatusNotFound},
		"not participant": {chat: models.Chat{ID: "c1", Participants: []string{"bob", "carol"}}, status: http.StatusForbidden},
		"store failure":   {err: assert.AnError, status: http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler, deps := newChatDeps()
			router := setupChatRouter(handler)
			deps.chats.On("GetChat", mock.Anything, "c1").Return(tc.chat, tc.err).Once()

			req := httptest.NewRequest(http.MethodGet, "/chats/c1/messages", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			deps.messages.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything)
		})
	}
}

func TestPostChatMessageSuccess(t *testing.T) {
	handler, deps := newChatDeps()
	router := setupChatRouter(handler)

	deps.chats.On("GetChat", mock.Anything, "c1").Return(models.Chat{ID: "c1", Participants: []string{"alice", "bob"}}, nil).Once()
	deps.messages.On("CreateMessage", mock.Anything, "c1", "alice", "hi").
		Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Text: "hi", Time: t0}, nil).Once()
	deps.registry.On("Publish", mock.Anything, "alice", chatMessageFor("c1")).Return(nil).Once()
	deps.registry.On("Publish", mock.Anything, "bob", chatMessageFor("c1")).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/c1/messages", bytes.NewBufferString(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	deps.assertExpectations(t)
}

func TestPostChatMessageMissingText(t *testing.T) {
	handler, deps := newChatDeps()
	router := setupChatRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/chats/c1/messages", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.chats.AssertNotCalled(t, "GetChat", mock.Anything, mock.Anything)
}

func TestListUsers(t *testing.T) {
	handler, deps := newChatDeps()
	router := setupChatRouter(handler)
	deps.users.On("ListUsers", mock.Anything).Return([]models.User{alice, bob}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"users":[{"id":"alice","name":"Alice"},{"id":"bob","name":"Bob"}]}`, rec.Body.String())
	deps.assertExpectations(t)
}

func TestDebugGroupsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := ws.NewHub()
	r := gin.New()
	RegisterDebugRoutes(r, hub.Stats, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/groups", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"groups":0,"members":0}`, rec.Body.String())

	disabled := gin.New()
	RegisterDebugRoutes(disabled, hub.Stats, false)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/groups", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type checkFunc func(ctx context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	up := pingFunc(func(context.Context) error { return nil })
	r := gin.New()
	r.GET("/ok", Health(up, checkFunc(func(context.Context) error { return nil })))
	r.GET("/down", Health(pingFunc(func(context.Context) error { return assert.AnError })))
	r.GET("/registry-down", Health(up, checkFunc(func(context.Context) error { return assert.AnError })))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registry-down", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"unavailable","error":"`+assert.AnError.Error()+`"}`, rec.Body.String())
}
