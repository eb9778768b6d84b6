package models

import "time"

// ChatTypePrivate is the only chat type the service creates.
const ChatTypePrivate = "private"

// Chat is a conversation container with a participant set fixed at creation.
type Chat struct {
	ID           string    `db:"id" json:"id"`
	Type         string    `db:"type" json:"type"`
	Participants []string  `db:"-" json:"participants"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Counterparts returns every participant other than userID.
func (c Chat) Counterparts(userID string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// ChatSummary is the per-counterpart view of a chat for one user.
type ChatSummary struct {
	ChatID          string     `json:"chat_id"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	LastMessage     string     `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
}
