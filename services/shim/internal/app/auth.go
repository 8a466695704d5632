package app

import (
	"context"
	"errors"
	"strings"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/identity"
	"fieldsync/pkg/profile"
)

// LoginInput is the login.php body.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterInput is the register.php body.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Name     string `json:"name" validate:"omitempty,max=120"`
}

// AuthResult is what the sign-in endpoints return.
type AuthResult struct {
	User  domain.Profile
	Token string
}

func (a *App) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := a.check(in); err != nil {
		return AuthResult{}, err
	}
	session, err := a.identity.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		return AuthResult{}, authError("login", err)
	}
	return a.finishSignIn(ctx, session, profile.Extra{})
}

func (a *App) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := a.check(in); err != nil {
		return AuthResult{}, err
	}
	session, err := a.identity.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		return AuthResult{}, authError("register", err)
	}
	return a.finishSignIn(ctx, session, profile.Extra{Name: a.clean(in.Name), Phone: strings.TrimSpace(in.Phone)})
}

// GoogleLogin exchanges a Google ID token for a session.
func (a *App) GoogleLogin(ctx context.Context, idToken string) (AuthResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return AuthResult{}, domain.Validation("id_token is required")
	}
	session, err := a.identity.SignInWithGoogle(ctx, idToken)
	if err != nil {
		return AuthResult{}, authError("google_login", err)
	}
	return a.finishSignIn(ctx, session, profile.Extra{})
}

func (a *App) finishSignIn(ctx context.Context, session identity.Session, extra profile.Extra) (AuthResult, error) {
	user, _, err := a.profiles.EnsureProfile(ctx, session.Identity, extra)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Token: session.Token}, nil
}

// RequestPasswordReset mails a reset code. Unknown addresses succeed
// silently.
func (a *App) RequestPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return domain.Validation("email is required")
	}
	if err := a.identity.SendPasswordReset(ctx, email); err != nil {
		return authError("forgot_password", err)
	}
	return nil
}

func (a *App) ResetPassword(ctx context.Context, email, code, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(code) == "" || password == "" {
		return domain.Validation("email, code and password are required")
	}
	if err := a.identity.ConfirmPasswordReset(ctx, email, code, password); err != nil {
		return authError("reset_password", err)
	}
	return nil
}

func (a *App) Logout(ctx context.Context, token string) error {
	if err := a.identity.SignOut(ctx, token); err != nil {
		return authError("logout", err)
	}
	return nil
}

// authError maps identity failures onto the error taxonomy.
func authError(op string, err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrAccountDisabled):
		return &domain.Error{Kind: domain.KindUnauthorized, Op: op, Message: "Invalid email or password", Err: err}
	case errors.Is(err, identity.ErrCredentialInvalid):
		return &domain.Error{Kind: domain.KindUnauthorized, Op: op, Message: "Google sign-in failed", Err: err}
	case errors.Is(err, identity.ErrSessionInvalid):
		return &domain.Error{Kind: domain.KindUnauthorized, Op: op, Message: "Unauthorized", Err: err}
	case errors.Is(err, identity.ErrEmailExists):
		return &domain.Error{Kind: domain.KindValidation, Op: op, Message: "Email already registered", Err: err}
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		return &domain.Error{Kind: domain.KindValidation, Op: op, Message: err.Error(), Err: err}
	case errors.Is(err, identity.ErrResetInvalid):
		return &domain.Error{Kind: domain.KindValidation, Op: op, Message: "Reset code is invalid or expired", Err: err}
	case errors.Is(err, identity.ErrResetRateLimited):
		return &domain.Error{Kind: domain.KindValidation, Op: op, Message: "Please wait before requesting another code", Err: err}
	default:
		return domain.Upstream(op, err)
	}
}
