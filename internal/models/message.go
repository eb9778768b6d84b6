package models

import "time"

// Message is an immutable chat message.
type Message struct {
	ID       string    `db:"id" json:"id"`
	ChatID   string    `db:"chat_id" json:"chat_id"`
	SenderID string    `db:"sender_id" json:"sender_id"`
	Text     string    `db:"text" json:"text"`
	Time     time.Time `db:"created_at" json:"time"`
}
