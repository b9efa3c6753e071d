package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// DefaultRedisKeyPrefix namespaces the ledger hash.
const DefaultRedisKeyPrefix = "applimit"

// RedisConfig holds connection settings for the Redis ledger.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLedgerStore implements domain.LedgerStore as one Redis hash
// holding the three ledger fields.
type RedisLedgerStore struct {
	client *redis.Client
	key    string
}

// NewRedisLedgerStore connects to Redis and verifies the connection.
func NewRedisLedgerStore(cfg RedisConfig) (*RedisLedgerStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisLedgerStore{
		client: client,
		key:    prefix + ":ledger",
	}, nil
}

// Load reads the ledger hash. A missing hash reads as the zero ledger.
func (s *RedisLedgerStore) Load(ctx context.Context) (domain.UsageLedger, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return domain.UsageLedger{}, fmt.Errorf("failed to read ledger: %w", err)
	}
	return decodeLedger(values)
}

// SaveUsed overwrites used_millis.
func (s *RedisLedgerStore) SaveUsed(ctx context.Context, used time.Duration) error {
	return s.client.HSet(ctx, s.key, KeyUsedMillis, formatMillis(used.Milliseconds())).Err()
}

// MarkIntroSeen sets seen_intro.
func (s *RedisLedgerStore) MarkIntroSeen(ctx context.Context) error {
	return s.client.HSet(ctx, s.key, KeySeenIntro, "true").Err()
}

// SetOverrideUntil overwrites override_until_millis. Zero clears it.
func (s *RedisLedgerStore) SetOverrideUntil(ctx context.Context, until time.Time) error {
	if until.IsZero() {
		return s.client.HDel(ctx, s.key, KeyOverrideUntilMillis).Err()
	}
	return s.client.HSet(ctx, s.key, KeyOverrideUntilMillis, formatMillis(until.UnixMilli())).Err()
}

// Close closes the Redis connection.
func (s *RedisLedgerStore) Close() error {
	return s.client.Close()
}

var _ domain.LedgerStore = (*RedisLedgerStore)(nil)
