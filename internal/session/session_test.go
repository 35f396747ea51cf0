package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/podflix/internal/ai"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, time.Hour, time.Minute), mr
}

func stores(t *testing.T) map[string]Store {
	r, _ := newRedisStore(t)
	return map[string]Store{"memory": NewMemory(), "redis": r}
}

func sample() State {
	tid := uint64(7)
	return State{
		SessionID:         "01HZX",
		UserID:            1,
		AppType:           "audio",
		History:           []ai.Message{{Role: ai.RoleSystem, Content: "sys"}},
		TranscriptContext: "Hello World",
		TranscriptID:      &tid,
		Settings:          ai.DefaultSettings("gpt-4o-mini"),
		TraceSessionURL:   "http://lf/project/p/sessions/01HZX",
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Get(ctx, "01HZX")
			assert.ErrorIs(t, err, ErrNotFound)

			s := sample()
			require.NoError(t, st.Put(ctx, s))

			got, err := st.Get(ctx, s.SessionID)
			require.NoError(t, err)
			assert.Equal(t, s, got)

			got.AppendRound("q", "a")
			require.NoError(t, st.Put(ctx, got))
			again, err := st.Get(ctx, s.SessionID)
			require.NoError(t, err)
			assert.Len(t, again.History, 3)
			assert.Equal(t, ai.Message{Role: ai.RoleAssistant, Content: "a"}, again.History[2])

			require.NoError(t, st.Delete(ctx, s.SessionID))
			_, err = st.Get(ctx, s.SessionID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_AcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			release, err := st.Acquire(ctx, "s1")
			require.NoError(t, err)

			_, err = st.Acquire(ctx, "s1")
			assert.ErrorIs(t, err, ErrRunInProgress)

			other, err := st.Acquire(ctx, "s2")
			require.NoError(t, err)
			other()

			release()
			release()

			again, err := st.Acquire(ctx, "s1")
			require.NoError(t, err)
			again()
		})
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, sample()))

	got, _ := m.Get(ctx, "01HZX")
	got.History[0].Content = "changed"

	fresh, _ := m.Get(ctx, "01HZX")
	assert.Equal(t, "sys", fresh.History[0].Content)
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t)
	require.NoError(t, st.Put(ctx, sample()))
	assert.Equal(t, time.Hour, mr.TTL(stateKeyPrefix+"01HZX"))

	mr.FastForward(2 * time.Hour)
	_, err := st.Get(ctx, "01HZX")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_StaleRunLockExpires(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t)

	_, err := st.Acquire(ctx, "s1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	release, err := st.Acquire(ctx, "s1")
	require.NoError(t, err)
	release()
}
