// Package identity is the hosted authentication provider: email/password
// accounts, Google credential exchange, password reset and session tokens.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("email format is invalid")
	ErrWeakPassword       = errors.New("password must be 6 to 72 characters")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrSessionInvalid     = errors.New("session invalid or expired")
	ErrCredentialInvalid  = errors.New("credential invalid")
	ErrResetInvalid       = errors.New("reset code invalid or expired")
	ErrResetRateLimited   = errors.New("too many reset requests")
)

const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Identity is the provider-side user record.
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	DisplayName   string `json:"display_name"`
	PhotoURL      string `json:"photo_url"`
	Provider      string `json:"provider"`
}

// Session is an authenticated identity plus its bearer token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  Identity  `json:"identity"`
}

// Provider is the identity surface consumed by the rest of the system.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password string) (Session, error)
	// SignInWithGoogle exchanges a Google ID token for a session, creating or
	// linking the account on first use.
	SignInWithGoogle(ctx context.Context, idToken string) (Session, error)
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error
	// Lookup resolves a bearer token to the current identity.
	Lookup(ctx context.Context, token string) (Identity, error)
	SignOut(ctx context.Context, token string) error
}
