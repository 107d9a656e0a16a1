package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sendloop/rotor/internal/domain"
)

// RedisLedger keeps open reservations in Redis so multiple engine
// instances share one double-report fence. Tokens expire server-side
// via key TTL; consumption is a single GETDEL so two racing reports
// cannot both win.
type RedisLedger struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisLedger creates a Redis-backed reservation ledger.
func NewRedisLedger(addr, password string, db int) *RedisLedger {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return &RedisLedger{
		client:    client,
		keyPrefix: "rotor:reservation:",
		ttl:       DefaultTokenTTL,
	}
}

// WithTTL overrides the token TTL.
func (l *RedisLedger) WithTTL(ttl time.Duration) *RedisLedger {
	l.ttl = ttl
	return l
}

// Issue mints a single-use reservation token for the claimed account.
func (l *RedisLedger) Issue(ctx context.Context, acct *domain.Account, action domain.ActionType) (*domain.Reservation, error) {
	res := &domain.Reservation{
		Token:     uuid.NewString(),
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		Platform:  acct.Platform,
		Action:    action,
		IssuedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal reservation: %w", err)
	}
	if err := l.client.Set(ctx, l.keyPrefix+res.Token, payload, l.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store reservation: %w", err)
	}
	return res, nil
}

// Consume retires the token, exactly once.
func (l *RedisLedger) Consume(ctx context.Context, token string) (*domain.Reservation, error) {
	payload, err := l.client.GetDel(ctx, l.keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &domain.TokenError{Token: token, Reason: "unknown, expired, or already consumed"}
	}
	if err != nil {
		return nil, fmt.Errorf("consume reservation: %w", err)
	}

	var res domain.Reservation
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("unmarshal reservation: %w", err)
	}
	return &res, nil
}

// Close releases the Redis connection pool.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
