package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/casework/authcore/account"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const selectColumns = `id, login_name, display_name, credential_hash, role, active,
	failed_attempts, locked_until, last_login, created_at`

// Postgres is an account directory backed by the accounts table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a pool through the pgx stdlib driver and pings it.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the pool for health checks.
func (p *Postgres) DB() *sql.DB { return p.db }

// Close closes the pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies embedded migrations that have not run yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migration files: %w", err)
	}
	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)

	for _, version := range versions {
		if err := p.applyMigration(ctx, version); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) applyMigration(ctx context.Context, version string) error {
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check migration %s: %w", version, err)
	}
	if exists {
		return nil
	}

	script, err := migrationFiles.ReadFile("migrations/" + version)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

// Create inserts a new account. An empty ID is replaced by a UUIDv7.
func (p *Postgres) Create(ctx context.Context, a account.Account) (account.Account, error) {
	a.LoginName = account.NormalizeLoginName(a.LoginName)
	if a.LoginName == "" {
		return account.Account{}, errors.New("login name is required")
	}
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return account.Account{}, fmt.Errorf("generate uuid v7: %w", err)
		}
		a.ID = id.String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, login_name, display_name, credential_hash, role, active,
			failed_attempts, locked_until, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, a.ID, a.LoginName, a.DisplayName, a.CredentialHash, string(a.Role), a.Active,
		a.FailedAttempts, nullTime(a.LockedUntil), nullTime(a.LastLogin), a.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return account.Account{}, account.ErrDuplicateLoginName
		}
		return account.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

// FindByID loads an account by primary key.
func (p *Postgres) FindByID(ctx context.Context, id string) (account.Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// FindByLoginName loads an account by normalized login name.
func (p *Postgres) FindByLoginName(ctx context.Context, loginName string) (account.Account, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM accounts WHERE login_name = $1`,
		account.NormalizeLoginName(loginName))
	return scanAccount(row)
}

// AtomicUpdate locks the row, applies mutate once, writes the mutable columns and
// commits. Any error, including ctx cancellation, rolls the transaction back.
func (p *Postgres) AtomicUpdate(ctx context.Context, id string, mutate account.Mutator) (account.Account, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Account{}, fmt.Errorf("begin account update tx: %w", err)
	}
	defer tx.Rollback()

	current, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return account.Account{}, err
	}

	working := current.Clone()
	if err := mutate(&working); err != nil {
		return account.Account{}, err
	}
	if working.ID != current.ID || working.LoginName != current.LoginName {
		return account.Account{}, errImmutableKey
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET display_name = $2, credential_hash = $3, role = $4, active = $5,
			failed_attempts = $6, locked_until = $7, last_login = $8, updated_at = NOW()
		WHERE id = $1
	`, working.ID, working.DisplayName, working.CredentialHash, string(working.Role), working.Active,
		working.FailedAttempts, nullTime(working.LockedUntil), nullTime(working.LastLogin))
	if err != nil {
		return account.Account{}, fmt.Errorf("update account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return account.Account{}, fmt.Errorf("commit account update tx: %w", err)
	}
	return working, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		a           account.Account
		role        string
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.LoginName, &a.DisplayName, &a.CredentialHash, &role, &a.Active,
		&a.FailedAttempts, &lockedUntil, &lastLogin, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, fmt.Errorf("scan account: %w", err)
	}

	parsed, err := account.ParseRole(role)
	if err != nil {
		return account.Account{}, err
	}
	a.Role = parsed
	if lockedUntil.Valid {
		v := lockedUntil.Time.UTC()
		a.LockedUntil = &v
	}
	if lastLogin.Valid {
		v := lastLogin.Time.UTC()
		a.LastLogin = &v
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
