package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrResetTokenSpent indicates the one-time token was already redeemed or
// never issued.
var ErrResetTokenSpent = errors.New("identity: reset token spent")

// ResetTokenStore tracks outstanding one-time reset tokens in Redis so each
// can be redeemed exactly once.
type ResetTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResetTokenStore constructs a store with the given token lifetime.
func NewResetTokenStore(client *redis.Client, ttl time.Duration) *ResetTokenStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResetTokenStore{client: client, ttl: ttl}
}

// TTL exposes the configured token lifetime.
func (s *ResetTokenStore) TTL() time.Duration {
	return s.ttl
}

// Issue registers a new token identifier for the principal.
func (s *ResetTokenStore) Issue(ctx context.Context, principalID int64) (string, error) {
	jti := uuid.NewString()
	err := s.client.Set(ctx, s.key(jti), strconv.FormatInt(principalID, 10), s.ttl).Err()
	if err != nil {
		return "", fmt.Errorf("identity: issue reset token: %w", err)
	}
	return jti, nil
}

// Redeem consumes the token identifier, returning the principal it was issued
// for. A second redemption fails with ErrResetTokenSpent.
func (s *ResetTokenStore) Redeem(ctx context.Context, jti string) (int64, error) {
	raw, err := s.client.GetDel(ctx, s.key(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrResetTokenSpent
	}
	if err != nil {
		return 0, fmt.Errorf("identity: redeem reset token: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrResetTokenSpent
	}
	return id, nil
}

func (s *ResetTokenStore) key(jti string) string {
	return "pwreset:" + jti
}
