package models

import "encoding/json"

// Inbound action tags.
const (
	ActionNewChat      = "new_chat"
	ActionGetUserChats = "get_user_chats"
	ActionGetMessages  = "get_messages"
	ActionSendMessage  = "send_message"
	ActionGetAllUsers  = "get_all_users"
)

// Outbound discriminators.
const (
	EventChatMessage    = "chat_message"
	EventNewChatCreated = "new_chat_created"
	ActionUserChats     = "user_chats"
	ActionChatMessages  = "chat_messages"
	ActionAllUsers      = "all_users"
	ActionError         = "error"
)

// InboundFrame is a client action frame.
type InboundFrame struct {
	Action  string          `json:"action"`
	Message json.RawMessage `json:"message"`
}

// IdentityFrame is pushed once after a successful handshake.
type IdentityFrame struct {
	User User `json:"user"`
}

// ChatMessageEvent delivers a stored message.
type ChatMessageEvent struct {
	Type     string  `json:"type"`
	Message  Message `json:"message"`
	SenderID string  `json:"sender_id"`
}

// NewChatMessageEvent builds a chat_message event for msg.
func NewChatMessageEvent(msg Message) ChatMessageEvent {
	return ChatMessageEvent{Type: EventChatMessage, Message: msg, SenderID: msg.SenderID}
}

// NewChatCreatedEvent announces a chat to one of its participants.
type NewChatCreatedEvent struct {
	Type string      `json:"type"`
	Chat ChatSummary `json:"chat"`
}

type UserChatsResponse struct {
	Action string        `json:"action"`
	Chats  []ChatSummary `json:"chats"`
}

type ChatMessagesResponse struct {
	Action   string    `json:"action"`
	Messages []Message `json:"messages"`
}

type AllUsersResponse struct {
	Action string        `json:"action"`
	Users  []UserSummary `json:"users"`
}

// ErrorFrame reports a failed action to the caller only.
type ErrorFrame struct {
	Action string `json:"action"`
	For    string `json:"for"`
	Error  string `json:"error"`
}
