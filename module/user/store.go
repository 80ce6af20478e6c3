package user

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"PGate/tools/errs"
)

// Account is the slice of the user document the gateway needs for
// admission: liveness flags plus the password hash.
type Account struct {
	UserID       int64  `bson:"user_id"`
	PasswordHash string `bson:"password_hash"`
	Active       bool   `bson:"active"`
	Deleted      bool   `bson:"deleted"`
}

// Store is the narrow lookup interface the admission path depends on.
// Backed by MongoDB in production, by MemoryStore in tests.
type Store interface {
	Account(ctx context.Context, userID int64) (*Account, error)
}

func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// ===== In-memory store =====

type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[int64]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[int64]*Account)}
}

func (s *MemoryStore) Put(userID int64, password string, active bool) {
	s.mu.Lock()
	s.accounts[userID] = &Account{
		UserID:       userID,
		PasswordHash: HashPassword(password),
		Active:       active,
	}
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(userID int64) {
	s.mu.Lock()
	if a, ok := s.accounts[userID]; ok {
		a.Deleted = true
	}
	s.mu.Unlock()
}

func (s *MemoryStore) Account(_ context.Context, userID int64) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("user", "id", userID)
	}
	cp := *a
	return &cp, nil
}
