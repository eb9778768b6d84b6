package models

// User is owned by the account store; the chat service only reads it.
type User struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}

// UserSummary is the public listing shape of a user.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
