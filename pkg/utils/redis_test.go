package utils

import (
	"context"
	"testing"
	"time"
)

func TestOwnershipScriptsCompile(t *testing.T) {
	if deleteIfEqualsScript == nil || expireIfEqualsScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestOwnershipHelpersRejectBadInput(t *testing.T) {
	ctx := context.Background()
	if _, err := DeleteIfEquals(ctx, nil, "k", "v"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := ExpireIfEquals(ctx, nil, "k", "v", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.PoolSize != 20 || c.PingTimeout != 2*time.Second || c.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
