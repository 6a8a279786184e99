package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type budgetDoc struct {
	DailyLimit int       `json:"dailyLimit"`
	Used       int       `json:"used"`
	ResetAt    time.Time `json:"resetAt"`
}

// backends returns one fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rd := NewRedis(client, "test:")
	t.Cleanup(func() { rd.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
		"redis":  rd,
	}
}

func TestStore_GetMissingIsNotAnError(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var doc budgetDoc
			found, err := s.Get(context.Background(), "governor/budget", &doc)
			require.NoError(t, err)
			assert.False(t, found)
			assert.Zero(t, doc)
		})
	}
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	reset := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "governor/budget", budgetDoc{DailyLimit: 1000, Used: 10, ResetAt: reset}))

			var got budgetDoc
			found, err := s.Get(ctx, "governor/budget", &got)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 1000, got.DailyLimit)
			assert.Equal(t, 10, got.Used)
			assert.True(t, got.ResetAt.Equal(reset))

			require.NoError(t, s.Set(ctx, "governor/budget", budgetDoc{DailyLimit: 5}))
			found, err = s.Get(ctx, "governor/budget", &got)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 5, got.DailyLimit)
			assert.Equal(t, 0, got.Used, "Set replaces the whole document")
		})
	}
}

func TestStore_UpdateMergesFields(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "governor/budget", budgetDoc{DailyLimit: 1000, Used: 10}))
			require.NoError(t, s.Update(ctx, "governor/budget", map[string]any{"used": 42}))

			var got budgetDoc
			_, err := s.Get(ctx, "governor/budget", &got)
			require.NoError(t, err)
			assert.Equal(t, 1000, got.DailyLimit, "untouched fields are preserved")
			assert.Equal(t, 42, got.Used)
		})
	}
}

func TestStore_UpdateCreatesMissingDocument(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Update(ctx, "governor/budget", map[string]any{"dailyLimit": 7}))

			var got budgetDoc
			found, err := s.Get(ctx, "governor/budget", &got)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 7, got.DailyLimit)
		})
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "a/b", map[string]int{"x": 1}))
			require.NoError(t, s.Remove(ctx, "a/b"))
			require.NoError(t, s.Remove(ctx, "a/b"))

			var v map[string]int
			found, err := s.Get(ctx, "a/b", &v)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_ListByPrefix(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			paths := []string{
				"memory/@alice:example.com/sessions/history/2026-02-02",
				"memory/@alice:example.com/sessions/history/2026-02-01",
				"memory/@alice:example.com/longTerm",
				"memory/@bob:example.com/longTerm",
			}
			for _, p := range paths {
				require.NoError(t, s.Set(ctx, p, map[string]string{"p": p}))
			}

			got, err := s.List(ctx, "memory/@alice:example.com/sessions/history/")
			require.NoError(t, err)
			assert.Equal(t, []string{
				"memory/@alice:example.com/sessions/history/2026-02-01",
				"memory/@alice:example.com/sessions/history/2026-02-02",
			}, got)

			got, err = s.List(ctx, "memory/@carol:example.com/")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_InvalidPath(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range []string{"", "/leading", "trailing/", "a//b"} {
				err := s.Set(context.Background(), p, 1)
				assert.True(t, errors.Is(err, ErrInvalidPath), "path %q: got %v", p, err)
			}
		})
	}
}

func TestJoin_EscapesSlashes(t *testing.T) {
	got := Join("memory", "@we/ird:example.com", "longTerm")
	assert.Equal(t, "memory/@we%2Fird:example.com/longTerm", got)
}

func TestSQLite_MigrationsAreIdempotent(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	// Running again on the same connection must not re-apply anything.
	require.NoError(t, s.runMigrations())

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"})
	assert.Error(t, err)
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = Open(context.Background(), Config{Backend: BackendRedis, RedisAddr: addr})
	assert.Error(t, err)
}
