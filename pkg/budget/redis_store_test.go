package budget

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a live Redis; set CIVOS_TEST_REDIS_ADDR (e.g. localhost:6379).
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CIVOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CIVOS_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	store := NewRedisStore(client, time.Hour)
	tenant := "test-" + uuid.New().String()

	spend, err := store.Load(ctx, tenant, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, 0.0, spend)

	_, err = store.AddSpend(ctx, tenant, "2026-10", 120.5)
	require.NoError(t, err)
	total, err := store.AddSpend(ctx, tenant, "2026-10", -20.5)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, total, 1e-9)

	ttl, err := client.TTL(ctx, redisKey(tenant, "2026-10")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "civos:budget:solar-kl:2026-10", redisKey("solar-kl", "2026-10"))
}

// fakeRedis answers GET, INCRBYFLOAT and EXPIRE from memory by short-circuiting
// the client's hooks, so no server is dialled.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]float64
	ttls   map[string]time.Duration
	fail   error
}

func newFakeRedisClient(t *testing.T) (*redis.Client, *fakeRedis) {
	t.Helper()
	f := &fakeRedis{values: map[string]float64{}, ttls: map[string]time.Duration{}}
	client := redis.NewClient(&redis.Options{Addr: "fake:6379"})
	client.AddHook(f)
	t.Cleanup(func() { _ = client.Close() })
	return client, f
}

func (f *fakeRedis) DialHook(redis.DialHook) redis.DialHook {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("fake redis does not dial")
	}
}

func (f *fakeRedis) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.apply(cmd)
	}
}

func (f *fakeRedis) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, cmd := range cmds {
			if err := f.apply(cmd); err != nil {
				return err
			}
		}
		return nil
	}
}

func (f *fakeRedis) apply(cmd redis.Cmder) error {
	if f.fail != nil {
		cmd.SetErr(f.fail)
		return f.fail
	}
	args := cmd.Args()
	switch c := cmd.(type) {
	case *redis.StringCmd: // GET
		v, ok := f.values[args[1].(string)]
		if !ok {
			c.SetErr(redis.Nil)
			return redis.Nil
		}
		c.SetVal(strconv.FormatFloat(v, 'f', -1, 64))
	case *redis.FloatCmd: // INCRBYFLOAT
		key := args[1].(string)
		f.values[key] += args[2].(float64)
		c.SetVal(f.values[key])
	case *redis.BoolCmd: // EXPIRE
		f.ttls[args[1].(string)] = time.Duration(args[2].(int64)) * time.Second
		c.SetVal(true)
	case *redis.StatusCmd: // MULTI
		c.SetVal("OK")
	case *redis.SliceCmd: // EXEC
		c.SetVal(nil)
	}
	return nil
}

func TestRedisStoreAddSpendSetsTTL(t *testing.T) {
	client, fake := newFakeRedisClient(t)
	store := NewRedisStore(client, 40*24*time.Hour)
	ctx := context.Background()

	spend, err := store.Load(ctx, "solar-kl", "2026-10")
	require.NoError(t, err)
	assert.Zero(t, spend)

	_, err = store.AddSpend(ctx, "solar-kl", "2026-10", 120.5)
	require.NoError(t, err)
	total, err := store.AddSpend(ctx, "solar-kl", "2026-10", -20.5)
	require.NoError(t, err)
	assert.InDelta(t, 100, total, 1e-9)

	loaded, err := store.Load(ctx, "solar-kl", "2026-10")
	require.NoError(t, err)
	assert.InDelta(t, 100, loaded, 1e-9)
	assert.Equal(t, 40*24*time.Hour, fake.ttls[redisKey("solar-kl", "2026-10")])
}

func TestRedisStoreWithoutTTL(t *testing.T) {
	client, fake := newFakeRedisClient(t)
	store := NewRedisStore(client, 0)

	_, err := store.AddSpend(context.Background(), "solar-kl", "2026-10", 10)
	require.NoError(t, err)
	assert.Empty(t, fake.ttls)
}

func TestRedisStoreErrorsAreWrapped(t *testing.T) {
	client, fake := newFakeRedisClient(t)
	fake.fail = errors.New("connection reset")
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.AddSpend(ctx, "solar-kl", "2026-10", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, fake.fail)
	assert.Contains(t, err.Error(), "redis add spend")

	_, err = store.Load(ctx, "solar-kl", "2026-10")
	assert.ErrorIs(t, err, fake.fail)

	mon, err := NewMonitor(1000, WithStore(store))
	require.NoError(t, err)
	assert.Error(t, mon.RecordSpend(ctx, 50))
	assert.Zero(t, mon.Summary().CurrentSpend)
}
