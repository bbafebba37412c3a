package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fintrack/internal/completion"
	"github.com/example/fintrack/internal/fact"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fresh, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", fresh.SessionID)
	assert.False(t, fresh.Awaiting())

	sess := &completion.Context{
		SessionID:     "s1",
		AwaitingField: completion.FieldContainerType,
		Partial:       &fact.PartialFact{Amount: fact.Dec("40")},
		TransactionID: "t1",
	}
	require.NoError(t, s.Put(ctx, sess))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Awaiting())
	assert.Equal(t, "t1", got.TransactionID)

	require.NoError(t, s.Clear(ctx, "s1"))
	cleared, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, cleared.Awaiting())
}

func TestMemoryStoreReturnsClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &completion.Context{SessionID: "s1", TransactionID: "t1"}))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	got.TransactionID = "mutated"

	again, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "t1", again.TransactionID, "callers must not mutate stored state through the returned pointer")
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "fintrack"), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	fresh, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", fresh.SessionID)
	assert.False(t, fresh.Awaiting())

	sess := &completion.Context{
		SessionID:     "s1",
		AwaitingField: completion.FieldAmount,
		Partial:       &fact.PartialFact{Category: fact.Str("groceries")},
		TransactionID: "t1",
	}
	require.NoError(t, s.Put(ctx, sess))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, completion.FieldAmount, got.AwaitingField)
	require.NotNil(t, got.Partial)
	assert.Equal(t, "groceries", *got.Partial.Category)

	require.NoError(t, s.Clear(ctx, "s1"))
	cleared, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, cleared.Awaiting())
}

func TestRedisStoreExpiresSessions(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &completion.Context{SessionID: "s1", AwaitingField: completion.FieldDate}))
	mr.FastForward(25 * time.Hour)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.Awaiting(), "expired contexts come back empty")
}
