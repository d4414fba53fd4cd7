package auth

import (
	"context"
	"errors"
)

var (
	ErrAccountExists      = errors.New("auth: account already exists")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

// Provider is the identity collaborator: it owns credentials and maps a
// provider token to a stable uid.  Any other error it returns means the
// provider itself is unavailable.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (uid string, err error)
	SignIn(ctx context.Context, email, password string) (token string, err error)
	Verify(ctx context.Context, token string) (uid string, err error)
}

// PasswordResetter is implemented by providers that let an operator replace
// a password without the old one.  Only seeding uses it.
type PasswordResetter interface {
	ResetPassword(ctx context.Context, email, password string) (uid string, err error)
}
