package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexBlocksSameKeyOnly(t *testing.T) {
	m := NewKeyedMutex()

	unlockA, err := m.Lock(context.Background(), "batch:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "batch:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockB, err := m.Lock(context.Background(), "batch:2")
	require.NoError(t, err)
	unlockB()

	unlockA()
	unlockA()
	assert.Equal(t, 0, m.held())

	unlockAgain, err := m.Lock(context.Background(), "batch:1")
	require.NoError(t, err)
	unlockAgain()
}

func TestKeyedMutexHandsOverToWaiter(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(context.Background(), "k")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

type fakeRedis struct {
	redis.Scripter
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0] {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLockerExcludesOtherHolders(t *testing.T) {
	fr := newFakeRedis()
	l := NewRedisLocker(fr, time.Minute, nil)
	l.poll = time.Millisecond

	unlock, err := l.Lock(context.Background(), "batch:7")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, fr.ttls["coffeechain:lock:batch:7"])

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "batch:7")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Empty(t, fr.values)

	again, err := l.Lock(context.Background(), "batch:7")
	require.NoError(t, err)
	again()
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	fr := newFakeRedis()
	l := NewRedisLocker(fr, time.Minute, nil)

	unlock, err := l.Lock(context.Background(), "batch:1")
	require.NoError(t, err)

	// Lease expired and another replica took the key.
	fr.mu.Lock()
	fr.values["coffeechain:lock:batch:1"] = "other-replica"
	fr.mu.Unlock()

	unlock()
	assert.Equal(t, "other-replica", fr.values["coffeechain:lock:batch:1"])
}

func TestNoLock(t *testing.T) {
	unlock, err := NoLock{}.Lock(context.Background(), "x")
	require.NoError(t, err)
	unlock()
}
