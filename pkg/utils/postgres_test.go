package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	if c.MaxOpenConns != 5 {
		t.Fatalf("explicit value overwritten: %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns != 5 {
		t.Fatalf("idle conns should follow open conns, got %d", c.MaxIdleConns)
	}
	if c.PingTimeout != 5*time.Second || c.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestPostgresPoolDefaults_IdleCappedByOpen(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 10}.withDefaults()
	if c.MaxIdleConns != 4 {
		t.Fatalf("idle conns must not exceed open conns, got %d", c.MaxIdleConns)
	}
}
