package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

const accountKeyPrefix = "account:"

// RedisAccountStore keeps each account as a JSON string under
// "account:<email>".
type RedisAccountStore struct{ RDB *redis.Client }

func NewRedisAccountStore(rdb *redis.Client) *RedisAccountStore {
	return &RedisAccountStore{RDB: rdb}
}

func accountKey(email string) string { return accountKeyPrefix + email }

// Get fetches and decodes the record for email.
func (s *RedisAccountStore) Get(ctx context.Context, email string) (model.Account, error) {
	raw, err := s.RDB.Get(ctx, accountKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
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

// Put overwrites the record. Last writer wins.
func (s *RedisAccountStore) Put(ctx context.Context, acc model.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return s.RDB.Set(ctx, accountKey(acc.Email), raw, 0).Err()
}

// Exists reports whether a record is stored.
func (s *RedisAccountStore) Exists(ctx context.Context, email string) (bool, error) {
	n, err := s.RDB.Exists(ctx, accountKey(email)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create uses SETNX so two racing registrations cannot both succeed.
func (s *RedisAccountStore) Create(ctx context.Context, acc model.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	ok, err := s.RDB.SetNX(ctx, accountKey(acc.Email), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisAccountStore) Ping(ctx context.Context) error {
	return s.RDB.Ping(ctx).Err()
}
