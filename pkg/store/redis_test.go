package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisConnects(t *testing.T) {
	srv := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", srv.Addr())
	t.Setenv("REDIS_TLS", "")
	t.Setenv("REDIS_REQUIRE_TLS", "")

	client, err := NewRedis(context.Background())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()
	t.Setenv("REDIS_ADDR", addr)
	t.Setenv("REDIS_TLS", "")
	t.Setenv("REDIS_REQUIRE_TLS", "")

	if _, err := NewRedis(context.Background()); err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestNewRedisRequireTLSWithoutTLS(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_TLS", "")
	t.Setenv("REDIS_REQUIRE_TLS", "true")

	if _, err := NewRedis(context.Background()); err == nil {
		t.Error("expected error when TLS required but not enabled")
	}
}

func TestRedisTLSFromEnv(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		t.Setenv("REDIS_TLS", "")
		cfg, err := redisTLSFromEnv()
		if err != nil || cfg != nil {
			t.Errorf("cfg = %v, err = %v, want nil, nil", cfg, err)
		}
	})

	t.Run("insecure needs second flag", func(t *testing.T) {
		t.Setenv("REDIS_TLS", "true")
		t.Setenv("REDIS_TLS_INSECURE", "true")
		t.Setenv("REDIS_ALLOW_INSECURE_TLS", "")
		if _, err := redisTLSFromEnv(); err == nil {
			t.Error("expected error without REDIS_ALLOW_INSECURE_TLS")
		}
	})

	t.Run("insecure with both flags", func(t *testing.T) {
		t.Setenv("REDIS_TLS", "true")
		t.Setenv("REDIS_TLS_INSECURE", "true")
		t.Setenv("REDIS_ALLOW_INSECURE_TLS", "true")
		cfg, err := redisTLSFromEnv()
		if err != nil || cfg == nil || !cfg.InsecureSkipVerify {
			t.Errorf("cfg = %+v, err = %v", cfg, err)
		}
	})

	t.Run("server name", func(t *testing.T) {
		t.Setenv("REDIS_TLS", "true")
		t.Setenv("REDIS_TLS_INSECURE", "")
		t.Setenv("REDIS_TLS_SERVER_NAME", "cache.internal")
		cfg, err := redisTLSFromEnv()
		if err != nil || cfg.ServerName != "cache.internal" {
			t.Errorf("serverName = %q, err = %v", cfg.ServerName, err)
		}
	})

	t.Run("half keypair", func(t *testing.T) {
		t.Setenv("REDIS_TLS", "true")
		t.Setenv("REDIS_TLS_INSECURE", "")
		t.Setenv("REDIS_TLS_SERVER_NAME", "")
		t.Setenv("REDIS_TLS_CERT_FILE", "/tmp/only-cert.pem")
		t.Setenv("REDIS_TLS_KEY_FILE", "")
		if _, err := redisTLSFromEnv(); err == nil {
			t.Error("expected error for cert without key")
		}
	})
}
