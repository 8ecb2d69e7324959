package database

import (
	"context"
	"net"
	"os"
	"testing"

	"compliance-core/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := config.RedisConfig{Host: "localhost", Port: "6379", DB: 15}
	if addr := os.Getenv("COMPLIANCE_TEST_REDIS_ADDR"); addr != "" {
		host, port, err := net.SplitHostPort(addr)
		require.NoError(t, err, "COMPLIANCE_TEST_REDIS_ADDR must be host:port")
		cfg.Host, cfg.Port = host, port
	}

	client, err := NewRedisClient(cfg)
	if err != nil {
		t.Skipf("Skipping integration test - Redis not available: %v", err)
	}
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient(config.RedisConfig{Host: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
}
