package locksvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/ratiba/testutil"
)

const lockTTL = time.Second

func newRedisLocker(t *testing.T, mr *miniredis.Miniredis) *RedisLocker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, lockTTL, new(testutil.Logger))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	conf := testutil.NewConfig()

	conf.Redis.Addr = mr.Addr()
	client, err := NewRedisClient(context.Background(), conf)
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = NewRedisClient(ctx, conf)
	assert.Error(t, err)
}

func TestRedisLocker_serializesKeyAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	replicas := []*RedisLocker{newRedisLocker(t, mr), newRedisLocker(t, mr)}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(l *RedisLocker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := l.Lock(ctx, "chain:1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}(replicas[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.False(t, mr.Exists(keyPrefix+"chain:1"), "released locks are deleted")
}

func TestRedisLocker_contention(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newRedisLocker(t, mr)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, lockTTL, mr.TTL(keyPrefix+"a"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.Error(t, err)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded, "gave up once ctx was done")

	unlockB, err := l.Lock(context.Background(), "b")
	require.NoError(t, err, "keys are independent")
	unlockB()

	unlock()
	unlock, err = l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_unlockOnlyOwnLock(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newRedisLocker(t, mr)
	key := keyPrefix + "a"

	unlockStale, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	staleToken, err := mr.Get(key)
	require.NoError(t, err)

	// the holder stalls past the ttl: another holder takes over
	mr.FastForward(2 * lockTTL)
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	token, err := mr.Get(key)
	require.NoError(t, err)
	require.NotEqual(t, staleToken, token)

	unlockStale()
	got, err := mr.Get(key)
	require.NoError(t, err, "the stale holder must not release the new lock")
	assert.Equal(t, token, got)

	unlock()
	assert.False(t, mr.Exists(key))
}
