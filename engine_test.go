package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/casework/authcore/account"
	"github.com/casework/authcore/directory"
)

const (
	testLoginName = "alice@example.org"
	testPassword  = "correct-password-123"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (l *eventLog) Emit(_ context.Context, ev AuditEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) byType(eventType string) []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []AuditEvent
	for _, ev := range l.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) all() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEvent(nil), l.events...)
}

// testConfig keeps Argon2 at its floor so tests stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningKey = []byte("test-signing-key-0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Revocation.SweepInterval = 0
	cfg.Audit.Synchronous = true
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	dir    *directory.Memory
	clock  *testClock
	events *eventLog
	acct   account.Account
}

func newTestEnv(t testing.TB, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		dir:    directory.NewMemory(),
		clock:  newTestClock(),
		events: &eventLog{},
	}
	engine, err := New().
		WithConfig(cfg).
		WithDirectory(env.dir).
		WithClock(env.clock.Now).
		WithAuditSink(env.events).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine

	env.acct = env.seed(t, testLoginName, testPassword, account.RoleStaff)
	return env
}

func (env *testEnv) seed(t testing.TB, loginName, secret string, role account.Role) account.Account {
	t.Helper()
	hash, err := env.engine.HashPassword(secret)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	acct, err := env.dir.Create(context.Background(), account.Account{
		LoginName:      loginName,
		DisplayName:    "Alice",
		CredentialHash: hash,
		Role:           role,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return acct
}

func (env *testEnv) stored(t testing.TB) account.Account {
	t.Helper()
	acct, err := env.dir.FindByID(context.Background(), env.acct.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	return acct
}

func (env *testEnv) login(t testing.TB) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), testLoginName, testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return res
}

func TestBuildRequiresDirectory(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	if err == nil {
		t.Fatal("expected error without directory")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithDirectory(directory.NewMemory())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestZeroEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), "a", "b"); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := (&Engine{}).Validate(context.Background(), "x"); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestEngineCloseStopsJanitor(t *testing.T) {
	cfg := testConfig()
	cfg.Revocation.SweepInterval = time.Millisecond
	engine, err := New().WithConfig(cfg).WithDirectory(directory.NewMemory()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		engine.Close()
		engine.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestAccountProfileOmitsCredential(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)

	p, err := env.engine.Account(context.Background(), env.acct.ID)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if p.LoginName != testLoginName || p.Role != account.RoleStaff || p.LastLogin == nil {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := env.engine.Account(context.Background(), "missing"); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestHashPasswordEnforcesMinLength(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.HashPassword("short"); err != ErrPasswordPolicy {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}
