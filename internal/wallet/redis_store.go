package wallet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultRedisPrefix namespaces wallet hashes in Redis.
const DefaultRedisPrefix = "wallet:"

const (
	fieldBalance   = "balance"
	fieldVersion   = "version"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// createScript returns 0 when the key already exists, 1 once written.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'balance', ARGV[1], 'version', ARGV[2], 'created_at', ARGV[3], 'updated_at', ARGV[3])
return 1
`)

// saveScript returns -1 when the wallet is missing, 0 on a version mismatch
// and the new version otherwise.
var saveScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current then
  return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
  return 0
end
local bumped = tonumber(current) + 1
redis.call('HSET', KEYS[1], 'balance', ARGV[2], 'version', tostring(bumped), 'updated_at', ARGV[3])
return bumped
`)

// RedisStore keeps each wallet in a Redis hash and performs the version check
// and the write inside a single Lua script.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a Redis-backed store. An empty prefix falls back to DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Create writes a new wallet hash unless one already exists for the id.
func (s *RedisStore) Create(ctx context.Context, w Wallet) (Wallet, error) {
	if w.Balance.IsNegative() {
		return Wallet{}, ErrNegativeBalance
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	w.UpdatedAt = w.CreatedAt

	created, err := createScript.Run(ctx, s.client, []string{s.key(w.ID)},
		w.Balance.String(), strconv.FormatInt(w.Version, 10), formatTime(w.CreatedAt)).Int()
	if err != nil {
		return Wallet{}, fmt.Errorf("create wallet in redis: %w", err)
	}
	if created == 0 {
		return Wallet{}, ErrExists
	}
	return w, nil
}

// Get reads the wallet hash.
func (s *RedisStore) Get(ctx context.Context, id string) (Wallet, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Wallet{}, fmt.Errorf("read wallet from redis: %w", err)
	}
	if len(fields) == 0 {
		return Wallet{}, ErrNotFound
	}
	return decodeWallet(id, fields)
}

// ConditionalSave writes the balance only if the stored version equals w.Version.
func (s *RedisStore) ConditionalSave(ctx context.Context, w Wallet) (Wallet, error) {
	if w.Balance.IsNegative() {
		return Wallet{}, ErrNegativeBalance
	}
	updatedAt := time.Now().UTC()

	res, err := saveScript.Run(ctx, s.client, []string{s.key(w.ID)},
		strconv.FormatInt(w.Version, 10), w.Balance.String(), formatTime(updatedAt)).Int64()
	if err != nil {
		return Wallet{}, fmt.Errorf("save wallet in redis: %w", err)
	}
	switch {
	case res < 0:
		return Wallet{}, ErrNotFound
	case res == 0:
		return Wallet{}, ErrVersionConflict
	}

	w.Version = res
	w.UpdatedAt = updatedAt
	return w, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func decodeWallet(id string, fields map[string]string) (Wallet, error) {
	balance, err := decimal.NewFromString(fields[fieldBalance])
	if err != nil {
		return Wallet{}, fmt.Errorf("decode wallet %s balance: %w", id, err)
	}
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return Wallet{}, fmt.Errorf("decode wallet %s version: %w", id, err)
	}
	createdAt, err := parseTime(fields[fieldCreatedAt])
	if err != nil {
		return Wallet{}, fmt.Errorf("decode wallet %s created_at: %w", id, err)
	}
	updatedAt, err := parseTime(fields[fieldUpdatedAt])
	if err != nil {
		return Wallet{}, fmt.Errorf("decode wallet %s updated_at: %w", id, err)
	}
	return Wallet{
		ID:        id,
		Balance:   balance,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
