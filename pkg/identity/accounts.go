package identity

import (
	"context"
	"sync"
	"time"
)

// Account is the stored credential record behind an Identity.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	DisplayName   string
	PhotoURL      string
	Provider      string
	GoogleSubject string
	EmailVerified bool
	Disabled      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Account) Identity() Identity {
	return Identity{
		UID:           a.ID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		DisplayName:   a.DisplayName,
		PhotoURL:      a.PhotoURL,
		Provider:      a.Provider,
	}
}

// AccountStore persists accounts.
type AccountStore interface {
	// CreateAccount returns ErrEmailExists when the email is taken.
	CreateAccount(ctx context.Context, a Account) error
	AccountByID(ctx context.Context, id string) (Account, bool, error)
	AccountByEmail(ctx context.Context, email string) (Account, bool, error)
	AccountByGoogleSubject(ctx context.Context, subject string) (Account, bool, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	LinkGoogle(ctx context.Context, id, subject string, emailVerified bool) error
}

// MemoryAccounts is an in-process AccountStore for tests and local runs.
type MemoryAccounts struct {
	mu   sync.RWMutex
	byID map[string]Account
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{byID: make(map[string]Account)}
}

func (m *MemoryAccounts) CreateAccount(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == a.Email {
			return ErrEmailExists
		}
	}
	m.byID[a.ID] = a
	return nil
}

func (m *MemoryAccounts) AccountByID(_ context.Context, id string) (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	return a, ok, nil
}

func (m *MemoryAccounts) AccountByEmail(_ context.Context, email string) (Account, bool, error) {
	return m.find(func(a Account) bool { return a.Email == email })
}

func (m *MemoryAccounts) AccountByGoogleSubject(_ context.Context, subject string) (Account, bool, error) {
	return m.find(func(a Account) bool { return subject != "" && a.GoogleSubject == subject })
}

func (m *MemoryAccounts) find(match func(Account) bool) (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if match(a) {
			return a, true, nil
		}
	}
	return Account{}, false, nil
}

func (m *MemoryAccounts) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrInvalidCredentials
	}
	a.PasswordHash = hash
	a.UpdatedAt = time.Now().UTC()
	m.byID[id] = a
	return nil
}

func (m *MemoryAccounts) LinkGoogle(_ context.Context, id, subject string, emailVerified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrInvalidCredentials
	}
	a.GoogleSubject = subject
	a.EmailVerified = a.EmailVerified || emailVerified
	a.UpdatedAt = time.Now().UTC()
	m.byID[id] = a
	return nil
}
