package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const resetCodeLen = 6

// ResetStore keeps one pending password-reset code per email in Redis.
type ResetStore struct {
	client      redis.UniversalClient
	keyPrefix   string
	codeTTL     time.Duration
	resendAfter time.Duration
	maxAttempts int
}

type resetChallenge struct {
	Email     string    `json:"email"`
	CodeHash  string    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// ResetOptions tunes code lifetime and throttling. Zero values use defaults.
type ResetOptions struct {
	Prefix      string
	CodeTTL     time.Duration
	ResendAfter time.Duration
	MaxAttempts int
}

func NewResetStore(client redis.UniversalClient, opts ResetOptions) (*ResetStore, error) {
	if client == nil {
		return nil, errors.New("reset redis client is required")
	}
	if strings.TrimSpace(opts.Prefix) == "" {
		opts.Prefix = "fieldsync:identity:reset"
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 15 * time.Minute
	}
	if opts.ResendAfter <= 0 {
		opts.ResendAfter = time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &ResetStore{
		client:      client,
		keyPrefix:   strings.TrimSpace(opts.Prefix),
		codeTTL:     opts.CodeTTL,
		resendAfter: opts.ResendAfter,
		maxAttempts: opts.MaxAttempts,
	}, nil
}

// Issue creates a fresh code for email, replacing any pending one. Requests
// inside the resend window fail with ErrResetRateLimited.
func (s *ResetStore) Issue(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resendKey := s.resendKey(email)
	allowed, err := s.client.SetNX(ctx, resendKey, "1", s.resendAfter).Result()
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", ErrResetRateLimited
	}
	code, err := generateNumericCode(resetCodeLen)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", fmt.Errorf("generate reset code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", fmt.Errorf("hash reset code: %w", err)
	}
	raw, err := json.Marshal(resetChallenge{
		Email:     email,
		CodeHash:  string(hash),
		ExpiresAt: time.Now().UTC().Add(s.codeTTL),
	})
	if err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", fmt.Errorf("marshal reset challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.challengeKey(email), raw, s.codeTTL).Err(); err != nil {
		_ = s.client.Del(ctx, resendKey).Err()
		return "", err
	}
	return code, nil
}

// Consume checks code for email. A matching code is deleted; a wrong code
// counts an attempt and the challenge is dropped once attempts run out.
func (s *ResetStore) Consume(ctx context.Context, email, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrResetInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	key := s.challengeKey(email)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrResetInvalid
	}
	if err != nil {
		return err
	}
	var challenge resetChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return fmt.Errorf("unmarshal reset challenge: %w", err)
	}
	if challenge.Email != email || time.Now().UTC().After(challenge.ExpiresAt) {
		_ = s.client.Del(ctx, key).Err()
		return ErrResetInvalid
	}
	if bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
		challenge.Attempts++
		if challenge.Attempts >= s.maxAttempts {
			_ = s.client.Del(ctx, key).Err()
			return ErrResetInvalid
		}
		if raw, err := json.Marshal(challenge); err == nil {
			if ttl, err := s.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				_ = s.client.Set(ctx, key, raw, ttl).Err()
			}
		}
		return ErrResetInvalid
	}
	return s.client.Del(ctx, key).Err()
}

func (s *ResetStore) challengeKey(email string) string {
	return fmt.Sprintf("%s:challenge:%s", s.keyPrefix, email)
}

func (s *ResetStore) resendKey(email string) string {
	return fmt.Sprintf("%s:resend:%s", s.keyPrefix, email)
}

func generateNumericCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
