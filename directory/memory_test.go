package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/casework/authcore/account"
)

func seedMemory(t *testing.T) (*Memory, account.Account) {
	t.Helper()
	m := NewMemory()
	a, err := m.Create(context.Background(), account.Account{
		LoginName:      "  Staff@Example.org ",
		DisplayName:    "Staff",
		CredentialHash: "hash",
		Role:           account.RoleStaff,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return m, a
}

func TestMemoryCreateAndFind(t *testing.T) {
	m, a := seedMemory(t)
	ctx := context.Background()

	if a.ID == "" || a.LoginName != "staff@example.org" {
		t.Fatalf("unexpected created account: %+v", a)
	}

	byName, err := m.FindByLoginName(ctx, "STAFF@example.org")
	if err != nil || byName.ID != a.ID {
		t.Fatalf("FindByLoginName: %+v %v", byName, err)
	}
	if _, err := m.FindByID(ctx, "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Create(ctx, account.Account{LoginName: "staff@example.org"}); !errors.Is(err, account.ErrDuplicateLoginName) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestMemoryFindReturnsCopy(t *testing.T) {
	m, a := seedMemory(t)
	ctx := context.Background()

	got, _ := m.FindByID(ctx, a.ID)
	got.FailedAttempts = 99
	again, _ := m.FindByID(ctx, a.ID)
	if again.FailedAttempts != 0 {
		t.Fatal("caller mutation leaked into directory")
	}
}

func TestMemoryAtomicUpdateAllOrNothing(t *testing.T) {
	m, a := seedMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := m.AtomicUpdate(ctx, a.ID, func(acc *account.Account) error {
		acc.FailedAttempts = 3
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	got, _ := m.FindByID(ctx, a.ID)
	if got.FailedAttempts != 0 {
		t.Fatalf("failed mutator committed: %+v", got)
	}

	_, err = m.AtomicUpdate(ctx, a.ID, func(acc *account.Account) error {
		acc.LoginName = "other"
		return nil
	})
	if err == nil {
		t.Fatal("expected login name change to be refused")
	}
}

func TestMemoryAtomicUpdateCanceledContext(t *testing.T) {
	m, a := seedMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := m.AtomicUpdate(ctx, a.ID, func(acc *account.Account) error {
		called = true
		acc.FailedAttempts++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("mutator ran after cancellation")
	}
}

func TestMemoryAtomicUpdateSerializesSameAccount(t *testing.T) {
	m, a := seedMemory(t)
	ctx := context.Background()

	const workers = 64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.AtomicUpdate(ctx, a.ID, func(acc *account.Account) error {
				acc.FailedAttempts++
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	got, _ := m.FindByID(ctx, a.ID)
	if got.FailedAttempts != workers {
		t.Fatalf("lost updates: count=%d want %d", got.FailedAttempts, workers)
	}
}

func TestMemoryDifferentAccountsDoNotBlock(t *testing.T) {
	m, a := seedMemory(t)
	ctx := context.Background()
	b, err := m.Create(ctx, account.Account{LoginName: "other@example.org", Role: account.RoleStaff, Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = m.AtomicUpdate(ctx, a.ID, func(acc *account.Account) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := m.AtomicUpdate(ctx, b.ID, func(acc *account.Account) error {
			acc.FailedAttempts = 1
			return nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("update b: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update on another account blocked behind a held lock")
	}
}

func TestMemoryDelete(t *testing.T) {
	m, a := seedMemory(t)
	ctx := context.Background()

	if err := m.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.FindByLoginName(ctx, a.LoginName); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := m.AtomicUpdate(ctx, a.ID, func(*account.Account) error { return nil }); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update after delete, got %v", err)
	}
}

func TestDirectoriesSatisfyInterface(t *testing.T) {
	var _ account.Directory = (*Memory)(nil)
	var _ account.Directory = (*Postgres)(nil)
}
