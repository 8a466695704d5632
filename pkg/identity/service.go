package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fieldsync/internal/idtoken"
	"fieldsync/internal/util"
)

// CredentialVerifier validates third-party credentials such as Google ID
// tokens.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (idtoken.Claims, error)
}

// Config wires the Service collaborators. Google and Mailer are optional.
type Config struct {
	Accounts AccountStore
	Sessions *Sessions
	Resets   *ResetStore
	Mailer   Mailer
	Google   CredentialVerifier
	Logger   *slog.Logger
}

// Service is the Provider implementation backed by AccountStore.
type Service struct {
	accounts AccountStore
	sessions *Sessions
	resets   *ResetStore
	mailer   Mailer
	google   CredentialVerifier
	logger   *slog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("identity account store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("identity sessions are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: cfg.Accounts,
		sessions: cfg.Sessions,
		resets:   cfg.Resets,
		mailer:   cfg.Mailer,
		google:   cfg.Google,
		logger:   logger,
	}, nil
}

var _ Provider = (*Service)(nil)

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	account, ok, err := s.accounts.AccountByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if !ok || !CheckPassword(password, account.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	if account.Disabled {
		return Session{}, ErrAccountDisabled
	}
	return s.sessions.Issue(account.Identity())
}

func (s *Service) SignUp(ctx context.Context, email, password string) (Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return Session{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	account := Account{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Provider:     ProviderPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("create account: %w", err)
	}
	return s.sessions.Issue(account.Identity())
}

// SignInWithGoogle resolves the Google subject to an account. An existing
// password account with the same verified email is linked rather than
// duplicated.
func (s *Service) SignInWithGoogle(ctx context.Context, rawToken string) (Session, error) {
	if s.google == nil {
		return Session{}, fmt.Errorf("%w: google sign-in not configured", ErrCredentialInvalid)
	}
	claims, err := s.google.Verify(ctx, rawToken)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	account, ok, err := s.accounts.AccountByGoogleSubject(ctx, claims.Subject)
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if ok {
		if account.Disabled {
			return Session{}, ErrAccountDisabled
		}
		return s.sessions.Issue(googleIdentity(account, claims))
	}

	email, err := NormalizeEmail(claims.Email)
	if err != nil {
		return Session{}, fmt.Errorf("%w: token email missing", ErrCredentialInvalid)
	}
	account, ok, err = s.accounts.AccountByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if ok {
		if !claims.EmailVerified {
			return Session{}, fmt.Errorf("%w: email not verified", ErrCredentialInvalid)
		}
		if account.Disabled {
			return Session{}, ErrAccountDisabled
		}
		if err := s.accounts.LinkGoogle(ctx, account.ID, claims.Subject, true); err != nil {
			return Session{}, fmt.Errorf("link google: %w", err)
		}
		account.GoogleSubject = claims.Subject
		account.EmailVerified = true
		return s.sessions.Issue(googleIdentity(account, claims))
	}

	now := time.Now().UTC()
	account = Account{
		ID:            util.NewID(),
		Email:         email,
		DisplayName:   strings.TrimSpace(claims.Name),
		PhotoURL:      strings.TrimSpace(claims.Picture),
		Provider:      ProviderGoogle,
		GoogleSubject: claims.Subject,
		EmailVerified: claims.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return Session{}, fmt.Errorf("create account: %w", err)
	}
	return s.sessions.Issue(googleIdentity(account, claims))
}

func googleIdentity(account Account, claims idtoken.Claims) Identity {
	id := account.Identity()
	id.Provider = ProviderGoogle
	if id.DisplayName == "" {
		id.DisplayName = strings.TrimSpace(claims.Name)
	}
	if id.PhotoURL == "" {
		id.PhotoURL = strings.TrimSpace(claims.Picture)
	}
	return id
}

// SendPasswordReset mails a reset code. Unknown emails succeed silently so
// the endpoint cannot be used to discover which accounts exist.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if s.resets == nil || s.mailer == nil {
		return errors.New("password reset not configured")
	}
	account, ok, err := s.accounts.AccountByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if !ok || account.Disabled {
		s.logger.Info("password reset for unknown account", "email", MaskEmail(email))
		return nil
	}
	code, err := s.resets.Issue(ctx, email)
	if err != nil {
		return err
	}
	if err := s.mailer.SendResetCode(ctx, email, code); err != nil {
		return err
	}
	s.logger.Info("password reset sent", "email", MaskEmail(email), "user_id", account.ID)
	return nil
}

// ConfirmPasswordReset sets a new password and revokes existing sessions.
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if s.resets == nil {
		return errors.New("password reset not configured")
	}
	if err := s.resets.Consume(ctx, email, code); err != nil {
		return err
	}
	account, ok, err := s.accounts.AccountByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if !ok {
		return ErrResetInvalid
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.sessions.RevokeUser(ctx, account.ID); err != nil {
		s.logger.Warn("revoke sessions after reset failed", "user_id", account.ID, "err", err)
	}
	return nil
}

func (s *Service) Lookup(ctx context.Context, token string) (Identity, error) {
	uid, err := s.sessions.Subject(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	account, ok, err := s.accounts.AccountByID(ctx, uid)
	if err != nil {
		return Identity{}, fmt.Errorf("load account: %w", err)
	}
	if !ok || account.Disabled {
		return Identity{}, ErrSessionInvalid
	}
	return account.Identity(), nil
}

func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}
