// Package accounts provides ready-made [authgate.AccountProvider]
// implementations: an in-memory map for tests and demos, and a SQLite
// table for small deployments.
package accounts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockplex/authgate"
	"github.com/lockplex/authgate/password"
)

// ErrUsernameTaken is returned by CreateAccount for duplicate usernames.
var ErrUsernameTaken = errors.New("username already taken")

// Memory is an in-process account store. Safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	byID       map[string]authgate.AccountRecord
	byUsername map[string]string
	hasher     *password.Argon2
}

// NewMemory creates an empty [Memory] store hashing with the given hasher.
func NewMemory(hasher *password.Argon2) *Memory {
	return &Memory{
		byID:       make(map[string]authgate.AccountRecord),
		byUsername: make(map[string]string),
		hasher:     hasher,
	}
}

// CreateAccount hashes the password and stores a new account.
func (m *Memory) CreateAccount(ctx context.Context, username, pass string) (authgate.AccountRecord, error) {
	hash, err := m.hasher.Hash(pass)
	if err != nil {
		return authgate.AccountRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[username]; exists {
		return authgate.AccountRecord{}, ErrUsernameTaken
	}

	record := authgate.AccountRecord{
		AccountID:    uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	m.byID[record.AccountID] = record
	m.byUsername[username] = record.AccountID
	return record, nil
}

func (m *Memory) GetAccountByUsername(ctx context.Context, username string) (authgate.AccountRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return authgate.AccountRecord{}, authgate.ErrAccountNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) GetAccountByID(ctx context.Context, accountID string) (authgate.AccountRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.byID[accountID]
	if !ok {
		return authgate.AccountRecord{}, authgate.ErrAccountNotFound
	}
	return record, nil
}

func (m *Memory) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.byID[accountID]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	record.PasswordHash = passwordHash
	m.byID[accountID] = record
	return nil
}
