package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-groupexam/internal/config"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisStateRepository_NoTTLKeepsUnsentAttempt(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	repo := NewRedisStateRepository(rdb, 0)
	id := uuid.New()

	require.NoError(t, repo.Save(ctx, id, &model.PersistedState{
		EndTimestamp: time.Now().Add(30 * time.Minute),
		Answers:      model.AnswerMap{"q1": "A"},
	}))
	assert.Zero(t, mr.TTL(config.CacheKey.GroupTestStateKey(id.String())))

	mr.FastForward(1000 * time.Hour)

	got, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"q1": "A"}, got.Answers)
}

func TestRedisStateRepository_TTLCountsFromAttemptEnd(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	repo := NewRedisStateRepository(rdb, 24*time.Hour)
	id := uuid.New()

	require.NoError(t, repo.Save(ctx, id, &model.PersistedState{
		EndTimestamp: time.Now().Add(30 * time.Minute),
		Answers:      model.AnswerMap{"q1": "A"},
	}))

	// A plain 24h TTL would already be gone here.
	mr.FastForward(24 * time.Hour)
	got, err := repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{"q1": "A"}, got.Answers)

	mr.FastForward(time.Hour)
	_, err = repo.Load(ctx, id)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisStateRepository_SaveKeepsExpiryAnchored(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	repo := NewRedisStateRepository(rdb, time.Hour)
	id := uuid.New()
	end := time.Now().Add(30 * time.Minute)

	require.NoError(t, repo.Save(ctx, id, &model.PersistedState{EndTimestamp: end, Answers: model.AnswerMap{}}))
	require.NoError(t, repo.Save(ctx, id, &model.PersistedState{EndTimestamp: end, Answers: model.AnswerMap{"q1": "B"}}))

	// Later saves do not push the expiry past end + ttl.
	ttl := mr.TTL(config.CacheKey.GroupTestStateKey(id.String()))
	assert.InDelta(t, (90 * time.Minute).Seconds(), ttl.Seconds(), 5)

	require.NoError(t, repo.Clear(ctx, id))
	_, err := repo.Load(ctx, id)
	assert.ErrorIs(t, err, ErrStateNotFound)
}
