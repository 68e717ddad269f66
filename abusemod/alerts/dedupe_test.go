package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magickw/linkdao-guard/abusemod/policy"
)

func TestDedupeKey(t *testing.T) {
	assert := assert.New(t)

	at := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal("brute_force_login-high-2024-03-01", DedupeKey(policy.PatternBruteForceLogin, policy.SeverityHigh, at))

	// the key rolls over at the UTC day boundary
	next := at.Add(2 * time.Minute)
	assert.Equal("brute_force_login-high-2024-03-02", DedupeKey(policy.PatternBruteForceLogin, policy.SeverityHigh, next))

	// non-UTC timestamps are normalized
	loc := time.FixedZone("UTC+5", 5*3600)
	assert.Equal(
		DedupeKey("p", policy.SeverityLow, at),
		DedupeKey("p", policy.SeverityLow, at.In(loc)),
	)
}

func TestMemDedupeIdempotence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ds := NewMemDedupeStore(48 * time.Hour)
	day1 := DedupeKey(policy.PatternSpamPosting, policy.SeverityMedium, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	first, err := ds.FirstToday(ctx, day1)
	assert.NoError(err)
	assert.True(first)

	// identical key within the same day: suppressed
	first, err = ds.FirstToday(ctx, day1)
	assert.NoError(err)
	assert.False(first)

	// same pattern+severity the following UTC day: alerts again
	day2 := DedupeKey(policy.PatternSpamPosting, policy.SeverityMedium, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))
	first, err = ds.FirstToday(ctx, day2)
	assert.NoError(err)
	assert.True(first)
}

func TestMemDedupeExpiryAndSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ds := NewMemDedupeStore(48 * time.Hour)
	ds.Now = func() time.Time { return now }

	key := DedupeKey(policy.PatternRapidRequests, policy.SeverityLow, now)
	first, err := ds.FirstToday(ctx, key)
	assert.NoError(err)
	assert.True(first)

	// expired entries stop suppressing even with the same key
	now = now.Add(49 * time.Hour)
	first, err = ds.FirstToday(ctx, key)
	assert.NoError(err)
	assert.True(first)

	// the set does not accumulate old day-stamped keys
	for day := 1; day <= 10; day++ {
		at := now.Add(time.Duration(day) * 24 * time.Hour)
		_, err := ds.FirstToday(ctx, DedupeKey("p", policy.SeverityLow, at))
		assert.NoError(err)
	}
	assert.Len(ds.seen, 11)
	now = now.Add(30 * 24 * time.Hour)
	ds.Sweep()
	assert.Len(ds.seen, 0)
}

func TestRedisDedupeStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	ds, err := NewRedisDedupeStore("redis://localhost:6379/0", 48*time.Hour)
	if err != nil {
		t.Fail()
	}

	key := DedupeKey("test_pattern", policy.SeverityLow, time.Now())
	first, err := ds.FirstToday(ctx, key)
	assert.NoError(err)
	assert.True(first)
	first, err = ds.FirstToday(ctx, key)
	assert.NoError(err)
	assert.False(first)
}
