// Package users resolves wallet addresses to platform users and records
// their derived reputation scores.
package users

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrUserNotFound = errors.New("user not found")

// User is one platform account.
type User struct {
	ID              string `json:"id"`
	WalletAddress   string `json:"walletAddress"`
	DisplayName     string `json:"displayName,omitempty"`
	ReputationScore int    `json:"reputationScore"`
}

// Directory maps wallets to users and accepts reputation updates.
type Directory interface {
	ResolveWallet(ctx context.Context, address string) (*User, error)
	Get(ctx context.Context, userID string) (*User, error)
	ApplyReputation(ctx context.Context, userID string, score int) error
}

// MemoryDirectory is an in-memory directory for tests and demo mode.
type MemoryDirectory struct {
	mu       sync.RWMutex
	byID     map[string]*User
	byWallet map[string]*User
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:     make(map[string]*User),
		byWallet: make(map[string]*User),
	}
}

// Add registers a user. Test and demo seeding helper.
func (m *MemoryDirectory) Add(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	cp.WalletAddress = strings.ToLower(cp.WalletAddress)
	m.byID[cp.ID] = &cp
	m.byWallet[cp.WalletAddress] = &cp
}

func (m *MemoryDirectory) ResolveWallet(ctx context.Context, address string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byWallet[strings.ToLower(address)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryDirectory) Get(ctx context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryDirectory) ApplyReputation(ctx context.Context, userID string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.ReputationScore = score
	return nil
}
