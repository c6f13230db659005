package credential

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Redis when CONSOLE_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CONSOLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONSOLE_TEST_REDIS_ADDR not set")
	}

	s, err := NewRedisStore(addr, "", 0, "console-test")
	require.NoError(t, err)
	defer s.Close()
	s.WithTTL(func(string) time.Duration { return time.Minute })

	ctx := context.Background()
	name := "admin-" + time.Now().Format("150405.000000")

	_, err = s.Load(ctx, name)
	assert.ErrorIs(t, err, ErrAuthNotReady)

	require.NoError(t, s.Save(ctx, name, "tok"))
	got, err := s.Load(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "tok", got)

	ttl, err := s.client.TTL(ctx, s.key(name)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Delete(ctx, name))
	_, err = s.Load(ctx, name)
	assert.ErrorIs(t, err, ErrAuthNotReady)
}
