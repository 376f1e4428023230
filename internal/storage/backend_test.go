package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_MissingFileLoadsEmpty(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "data", "users.json"))
	require.NoError(t, err)

	data, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileBackend_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.json")
	b, err := NewFileBackend(path)
	require.NoError(t, err)

	require.NoError(t, b.Save(ctx, []byte(`{"version":1}`)))
	require.NoError(t, b.Save(ctx, []byte(`{"version":2}`)))

	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(data))

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLiteBackend_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")

	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)

	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, b.Save(ctx, []byte(`{"version":1}`)))
	require.NoError(t, b.Save(ctx, []byte(`{"version":1,"bans":["x"]}`)))
	require.NoError(t, b.Close())

	// Reopen to check durability
	b, err = NewSQLiteBackend(path)
	require.NoError(t, err)
	defer b.Close()

	data, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1,"bans":["x"]}`, string(data))
}

func TestRedisBackend_SaveAndLoad(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	b := NewRedisBackend(addr, 0, "teemobot:test:"+t.Name())
	defer b.Close()

	require.NoError(t, b.Save(ctx, []byte(`{"version":1}`)))
	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(data))
}

func TestRetryRedisOperation(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after failures", func(t *testing.T) {
		attempts := 0
		got, err := retryRedisOperation(ctx, func() (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("connection refused")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		attempts := 0
		cause := errors.New("connection refused")
		_, err := retryRedisOperation(ctx, func() (int, error) {
			attempts++
			return 0, cause
		})
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		attempts := 0
		_, err := retryRedisOperation(cancelled, func() (int, error) {
			attempts++
			return 0, errors.New("connection refused")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}
