package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devconnector-chat/internal/models"
	"devconnector-chat/internal/repositories"
)

// UserLookup resolves a verified user id.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Verifier authenticates connection credentials.
type Verifier struct {
	secret []byte
	users  UserLookup
	now    func() time.Time
}

// NewVerifier constructs a Verifier.
func NewVerifier(secret []byte, users UserLookup) *Verifier {
	return &Verifier{secret: secret, users: users, now: time.Now}
}

// Authenticate verifies raw and resolves its user. Every failure, including
// an unknown or unresolvable user, matches ErrAuthentication.
func (v *Verifier) Authenticate(ctx context.Context, raw string) (models.User, error) {
	userID, err := Verify(raw, v.secret, v.now())
	if err != nil {
		return models.User{}, err
	}

	user, err := v.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.User{}, ErrUnknownUser
		}
		return models.User{}, fmt.Errorf("%w: lookup user: %v", ErrAuthentication, err)
	}
	return user, nil
}
