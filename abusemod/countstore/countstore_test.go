package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	c, err := cs.Peek(ctx, Key("req", "203.0.113.5"))
	assert.NoError(err)
	assert.Equal(0, c)

	c, err = cs.Increment(ctx, Key("req", "203.0.113.5"), time.Minute)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = cs.Increment(ctx, Key("req", "203.0.113.5"), time.Minute)
	assert.NoError(err)
	assert.Equal(2, c)

	c, err = cs.Peek(ctx, Key("req", "203.0.113.5"))
	assert.NoError(err)
	assert.Equal(2, c)

	// other keys unaffected
	c, err = cs.Peek(ctx, Key("req", "203.0.113.6"))
	assert.NoError(err)
	assert.Equal(0, c)
}

func TestMemCountStoreWindowReset(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cs.Now = func() time.Time { return now }

	window := 60 * time.Second
	c, err := cs.Increment(ctx, "k", window)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = cs.Increment(ctx, "k", window)
	assert.NoError(err)
	assert.Equal(2, c)

	// increment just past the window start resets to a fresh count of 1,
	// not count+1
	now = now.Add(window + time.Millisecond)
	c, err = cs.Increment(ctx, "k", window)
	assert.NoError(err)
	assert.Equal(1, c)
}

func TestMemCountStoreRememberRecall(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cs.Now = func() time.Time { return now }

	v, err := cs.Recall(ctx, "loc/u1")
	assert.NoError(err)
	assert.Equal("", v)

	assert.NoError(cs.Remember(ctx, "loc/u1", "203.0.113.5", time.Hour))
	v, err = cs.Recall(ctx, "loc/u1")
	assert.NoError(err)
	assert.Equal("203.0.113.5", v)

	now = now.Add(time.Hour + time.Second)
	v, err = cs.Recall(ctx, "loc/u1")
	assert.NoError(err)
	assert.Equal("", v)
}

func TestMemCountStoreSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cs.Now = func() time.Time { return now }

	_, err := cs.Increment(ctx, "a", time.Second)
	assert.NoError(err)
	assert.NoError(cs.Remember(ctx, "b", "v", time.Second))

	now = now.Add(2 * time.Second)
	cs.Sweep()

	cs.mu.Lock()
	assert.Empty(cs.counts)
	assert.Empty(cs.values)
	cs.mu.Unlock()
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	// interleave reads and writes from several goroutines; run with -race
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := cs.Increment(ctx, "shared", time.Minute)
				assert.NoError(err)
			}
		}()
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := cs.Peek(ctx, "shared")
				assert.NoError(err)
			}
		}()
	}
	wg.Wait()

	c, err := cs.Peek(ctx, "shared")
	assert.NoError(err)
	assert.Equal(400, c)
}

func TestRedisCountStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	cs, err := NewRedisCountStore("redis://localhost:6379/0")
	if err != nil {
		t.Fail()
	}

	key := Key("test", time.Now().Format(time.RFC3339Nano))
	c, err := cs.Increment(ctx, key, 2*time.Second)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = cs.Increment(ctx, key, 2*time.Second)
	assert.NoError(err)
	assert.Equal(2, c)

	time.Sleep(2100 * time.Millisecond)
	c, err = cs.Increment(ctx, key, 2*time.Second)
	assert.NoError(err)
	assert.Equal(1, c)
}
