package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/casework/authcore/account"
	"github.com/google/uuid"
)

var errImmutableKey = errors.New("mutator must not change account id or login name")

type memEntry struct {
	mu    sync.Mutex
	login string
	acct  account.Account
}

// Memory is an in-process account directory.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*memEntry
	byLogin map[string]string
}

// NewMemory returns an empty directory.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*memEntry),
		byLogin: make(map[string]string),
	}
}

// Create stores a new account. An empty ID is replaced by a UUIDv7. The login name is
// normalized before storage.
func (m *Memory) Create(ctx context.Context, a account.Account) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	a.LoginName = account.NormalizeLoginName(a.LoginName)
	if a.LoginName == "" {
		return account.Account{}, errors.New("login name is required")
	}
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return account.Account{}, err
		}
		a.ID = id.String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byLogin[a.LoginName]; ok {
		return account.Account{}, account.ErrDuplicateLoginName
	}
	if _, ok := m.byID[a.ID]; ok {
		return account.Account{}, errors.New("account id already exists")
	}
	m.byID[a.ID] = &memEntry{login: a.LoginName, acct: a.Clone()}
	m.byLogin[a.LoginName] = a.ID
	return a.Clone(), nil
}

// Delete removes an account. Deleting a missing account returns account.ErrNotFound.
func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	delete(m.byID, id)
	delete(m.byLogin, e.login)
	return nil
}

func (m *Memory) entry(id string) (*memEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	return e, ok
}

// FindByID returns a copy of the account.
func (m *Memory) FindByID(ctx context.Context, id string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	e, ok := m.entry(id)
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.Clone(), nil
}

// FindByLoginName normalizes loginName and returns a copy of the matching account.
func (m *Memory) FindByLoginName(ctx context.Context, loginName string) (account.Account, error) {
	m.mu.RLock()
	id, ok := m.byLogin[account.NormalizeLoginName(loginName)]
	m.mu.RUnlock()
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return m.FindByID(ctx, id)
}

// AtomicUpdate applies mutate to a private copy while holding the account's lock and
// swaps the copy in only when mutate succeeds and ctx is still live.
func (m *Memory) AtomicUpdate(ctx context.Context, id string, mutate account.Mutator) (account.Account, error) {
	e, ok := m.entry(id)
	if !ok {
		return account.Account{}, account.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}

	// A concurrent Delete may have detached this entry while we waited.
	if cur, ok := m.entry(id); !ok || cur != e {
		return account.Account{}, account.ErrNotFound
	}

	working := e.acct.Clone()
	if err := mutate(&working); err != nil {
		return account.Account{}, err
	}
	if working.ID != e.acct.ID || working.LoginName != e.acct.LoginName {
		return account.Account{}, errImmutableKey
	}
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}

	e.acct = working
	return working.Clone(), nil
}
