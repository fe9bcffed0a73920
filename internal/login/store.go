package login

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrAccountNotFound = errors.New("login: account not found")

// Account is a database-backed credential record for the tenant,
// accountant, and vendor classes.
type Account struct {
	Identity         string
	Class            string
	PasswordHash     string
	TOTPEnabled      bool
	TOTPSecret       string
	BackupCodeHashes []string
	IsLocked         bool
	LockedUntil      *time.Time
	IsActive         bool
}

// AccountStore persists accounts. ReplaceBackupCodes is how a consumed
// recovery code becomes single-use.
type AccountStore interface {
	FindByIdentity(ctx context.Context, identity string) (*Account, error)
	Put(ctx context.Context, account *Account) error
	ReplaceBackupCodes(ctx context.Context, identity string, hashes []string) error
}

// MemoryAccountStore keeps accounts in process memory for tests and
// local development.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

var _ AccountStore = (*MemoryAccountStore)(nil)

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*Account)}
}

func (s *MemoryAccountStore) FindByIdentity(_ context.Context, identity string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[strings.ToLower(identity)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *account
	cp.BackupCodeHashes = append([]string(nil), account.BackupCodeHashes...)
	return &cp, nil
}

func (s *MemoryAccountStore) Put(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *account
	cp.Identity = strings.ToLower(account.Identity)
	cp.BackupCodeHashes = append([]string(nil), account.BackupCodeHashes...)
	s.accounts[cp.Identity] = &cp
	return nil
}

func (s *MemoryAccountStore) ReplaceBackupCodes(_ context.Context, identity string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[strings.ToLower(identity)]
	if !ok {
		return ErrAccountNotFound
	}
	account.BackupCodeHashes = append([]string(nil), hashes...)
	return nil
}
