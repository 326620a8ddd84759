package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ariefcatur/go-marketplace/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRequiresBrokersAndRedis(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(context.Background(), config.Config{RedisAddr: "localhost:6379"}, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")

	err = run(context.Background(), config.Config{KafkaBrokers: []string{"localhost:9092"}}, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestRunReturnsRedisFailure(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// ping gagal -> error dikembalikan, bukan exit; defer rdb.Close tetap jalan
	err := run(ctx, config.Config{KafkaBrokers: []string{"127.0.0.1:1"}, RedisAddr: "127.0.0.1:1"}, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
