package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldsync/internal/util"
	"fieldsync/pkg/store"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "fieldsync-identity"
	defaultAudience = "fieldsync-shim"
	minSecretLen    = 32
)

var defaultLeeway = 30 * time.Second

// SessionOptions configures session token issuing and validation.
type SessionOptions struct {
	Secret   string
	TTL      time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Sessions issues and validates HS256 session tokens.
type Sessions struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	leeway   time.Duration
	revoker  store.TokenRevoker
	now      func() time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func NewSessions(opts SessionOptions, revoker store.TokenRevoker) (*Sessions, error) {
	if len(opts.Secret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if strings.TrimSpace(opts.Issuer) == "" {
		opts.Issuer = defaultIssuer
	}
	if strings.TrimSpace(opts.Audience) == "" {
		opts.Audience = defaultAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return &Sessions{
		secret:   []byte(opts.Secret),
		ttl:      opts.TTL,
		issuer:   strings.TrimSpace(opts.Issuer),
		audience: strings.TrimSpace(opts.Audience),
		leeway:   opts.Leeway,
		revoker:  revoker,
		now:      time.Now,
	}, nil
}

// Issue signs a session token for the identity.
func (s *Sessions) Issue(id Identity) (Session, error) {
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        util.NewID(),
		},
		Email:    id.Email,
		Provider: id.Provider,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	return Session{Token: signed, ExpiresAt: expires.Truncate(time.Second), Identity: id}, nil
}

// Subject validates a token and returns its user id. Any invalid, expired or
// revoked token yields ErrSessionInvalid.
func (s *Sessions) Subject(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if s.revoker == nil {
		return claims.Subject, nil
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", fmt.Errorf("%w: token revoked", ErrSessionInvalid)
	}
	cutoff, err := s.revoker.RevokedAfter(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	// iat has second precision; the cutoff is truncated to match.
	if !cutoff.IsZero() && claims.IssuedAt.Time.Before(cutoff.Truncate(time.Second)) {
		return "", fmt.Errorf("%w: token revoked for user", ErrSessionInvalid)
	}
	return claims.Subject, nil
}

// Revoke invalidates a single token until its expiry. Unparseable tokens are
// already unusable and are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeUser invalidates every token for the user issued before now.
func (s *Sessions) RevokeUser(ctx context.Context, userID string) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeUser(ctx, userID, s.now())
}

func (s *Sessions) parse(token string) (*sessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("token required")
	}
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token subject missing")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, errors.New("token jti missing")
	}
	if claims.IssuedAt == nil {
		return nil, errors.New("token issued_at missing")
	}
	return claims, nil
}
