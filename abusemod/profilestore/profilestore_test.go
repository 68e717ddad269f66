package profilestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemProfileStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ps := NewMemProfileStore(10, time.Minute)

	// miss reads as a clean profile
	p, err := ps.Get(ctx, "user:u1")
	assert.NoError(err)
	assert.True(p.IsClean())

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.NoError(ps.Set(ctx, "user:u1", Profile{PriorViolations: 3, LastViolation: at}))
	p, err = ps.Get(ctx, "user:u1")
	assert.NoError(err)
	assert.Equal(3, p.PriorViolations)
	assert.Equal(at, p.LastViolation)
	assert.False(p.IsClean())

	assert.NoError(ps.Purge(ctx, "user:u1"))
	p, err = ps.Get(ctx, "user:u1")
	assert.NoError(err)
	assert.True(p.IsClean())
}

func TestRedisProfileStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	ps, err := NewRedisProfileStore("redis://localhost:6379/0", time.Minute)
	if err != nil {
		t.Fail()
	}

	assert.NoError(ps.Set(ctx, "user:u1", Profile{PriorViolations: 2}))
	p, err := ps.Get(ctx, "user:u1")
	assert.NoError(err)
	assert.Equal(2, p.PriorViolations)
	assert.NoError(ps.Purge(ctx, "user:u1"))
}
