package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

// accountsSchema uses a binary collation so emails stay case-sensitive.
const accountsSchema = `CREATE TABLE IF NOT EXISTS accounts (
	email VARCHAR(320) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL PRIMARY KEY,
	record JSON NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`

const mysqlDuplicateEntry = 1062

// MySQLAccountStore keeps the serialized account in a single JSON column,
// mirroring the key-value shape of the Redis store.
type MySQLAccountStore struct{ DB *sql.DB }

func NewMySQLAccountStore(db *sql.DB) *MySQLAccountStore { return &MySQLAccountStore{DB: db} }

// EnsureSchema creates the accounts table if it is missing.
func (s *MySQLAccountStore) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, accountsSchema)
	return err
}

// Get fetches the record for email.
func (s *MySQLAccountStore) Get(ctx context.Context, email string) (model.Account, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx,
		"SELECT record FROM accounts WHERE email=? LIMIT 1", email).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, err
	}
	var acc model.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return model.Account{}, fmt.Errorf("decode account %q: %w", email, err)
	}
	return acc, nil
}

// Put upserts the whole record.
func (s *MySQLAccountStore) Put(ctx context.Context, acc model.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		"INSERT INTO accounts (email, record) VALUES (?,?) ON DUPLICATE KEY UPDATE record=VALUES(record)",
		acc.Email, raw)
	return err
}

// Exists reports whether a row is stored for email.
func (s *MySQLAccountStore) Exists(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		"SELECT 1 FROM accounts WHERE email=? LIMIT 1", email).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts a new row; the primary key rejects duplicates.
func (s *MySQLAccountStore) Create(ctx context.Context, acc model.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		"INSERT INTO accounts (email, record) VALUES (?,?)", acc.Email, raw)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return ErrAlreadyExists
	}
	return err
}

func (s *MySQLAccountStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
