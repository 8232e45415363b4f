package presence

import (
	"context"
	"time"

	"callsignal/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

// RedisMirror stores presence:<userId> = <connId> with a TTL so other
// processes can see who is online. Keys are only cleared or refreshed by
// the connection that wrote them.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(rdb *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisMirror{rdb: rdb, ttl: ttl}
}

func Key(userID string) string { return keyPrefix + userID }

func (m *RedisMirror) Set(ctx context.Context, userID, connID string) error {
	return m.rdb.Set(ctx, Key(userID), connID, m.ttl).Err()
}

func (m *RedisMirror) Clear(ctx context.Context, userID, connID string) error {
	_, err := utils.DeleteIfEquals(ctx, m.rdb, Key(userID), connID)
	return err
}

func (m *RedisMirror) Refresh(ctx context.Context, userID, connID string) error {
	_, err := utils.ExpireIfEquals(ctx, m.rdb, Key(userID), connID, m.ttl)
	return err
}
