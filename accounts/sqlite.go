package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lockplex/authgate"
	"github.com/lockplex/authgate/password"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id    TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts (username);
`

// SQLite stores accounts in a single SQLite table. Open the database with
// the mattn/go-sqlite3 driver and pass it in; Init creates the schema.
type SQLite struct {
	db     *sql.DB
	hasher *password.Argon2
}

// NewSQLite wraps an open database handle.
func NewSQLite(db *sql.DB, hasher *password.Argon2) *SQLite {
	return &SQLite{db: db, hasher: hasher}
}

// Init creates the accounts table if it does not exist.
func (s *SQLite) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("accounts schema: %w", err)
	}
	return nil
}

// CreateAccount hashes the password and inserts a new account.
func (s *SQLite) CreateAccount(ctx context.Context, username, pass string) (authgate.AccountRecord, error) {
	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return authgate.AccountRecord{}, err
	}

	record := authgate.AccountRecord{
		AccountID:    uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (account_id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		record.AccountID, record.Username, record.PasswordHash, record.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return authgate.AccountRecord{}, ErrUsernameTaken
		}
		return authgate.AccountRecord{}, fmt.Errorf("insert account: %w", err)
	}
	return record, nil
}

func (s *SQLite) GetAccountByUsername(ctx context.Context, username string) (authgate.AccountRecord, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT account_id, username, password_hash, created_at FROM accounts WHERE username = ?`,
		username,
	))
}

func (s *SQLite) GetAccountByID(ctx context.Context, accountID string) (authgate.AccountRecord, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT account_id, username, password_hash, created_at FROM accounts WHERE account_id = ?`,
		accountID,
	))
}

func (s *SQLite) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ? WHERE account_id = ?`,
		passwordHash, accountID,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return authgate.ErrAccountNotFound
	}
	return nil
}

func (s *SQLite) scanAccount(row *sql.Row) (authgate.AccountRecord, error) {
	var record authgate.AccountRecord
	var createdAt int64

	err := row.Scan(&record.AccountID, &record.Username, &record.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authgate.AccountRecord{}, authgate.ErrAccountNotFound
		}
		return authgate.AccountRecord{}, fmt.Errorf("scan account: %w", err)
	}
	record.CreatedAt = time.Unix(createdAt, 0)
	return record, nil
}
