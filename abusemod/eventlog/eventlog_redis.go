package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/magickw/linkdao-guard/abusemod/countstore"
	"github.com/magickw/linkdao-guard/abusemod/event"
)

var redisEventLogKey = "abuse-events"

// Finds the entry whose serialized form contains the id marker and flips its
// resolved flag in place. Runs server-side so concurrent LPUSHes from other
// replicas cannot shift the index between read and write. Returns 1 when
// flipped, 0 when already resolved, -1 when absent.
var resolveEventScript = redis.NewScript(`
local entries = redis.call('LRANGE', KEYS[1], 0, -1)
for i, raw in ipairs(entries) do
	if string.find(raw, ARGV[1], 1, true) then
		local ev = cjson.decode(raw)
		if ev['resolved'] then
			return 0
		end
		ev['resolved'] = true
		redis.call('LSET', KEYS[1], i-1, cjson.encode(ev))
		return 1
	end
end
return -1
`)

type RedisEventLog struct {
	Client *redis.Client
	Cap    int
}

var _ EventLog = (*RedisEventLog)(nil)

func NewRedisEventLog(redisURL string, cap int) (*RedisEventLog, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisEventLog{Client: rdb, Cap: cap}, nil
}

func (l *RedisEventLog) Append(ctx context.Context, ev event.AbuseEvent) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}

	// push and trim in a single round trip; the trim keeps the log capped
	// under concurrent appends from multiple replicas
	multi := l.Client.Pipeline()
	multi.LPush(ctx, redisEventLogKey, raw)
	multi.LTrim(ctx, redisEventLogKey, 0, int64(l.Cap-1))
	if _, err := multi.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", countstore.ErrStoreUnavailable, err)
	}
	return ev.ID, nil
}

func (l *RedisEventLog) Stats(ctx context.Context, topN, recentM int) (*Stats, error) {
	events, err := l.all(ctx)
	if err != nil {
		return nil, err
	}
	return computeStats(events, topN, recentM), nil
}

func (l *RedisEventLog) Resolve(ctx context.Context, id string) (bool, error) {
	// the id marker is unique: entries are marshaled compactly by
	// encoding/json and ids are uuids
	marker := fmt.Sprintf(`"id":%q`, id)
	res, err := resolveEventScript.Run(ctx, l.Client, []string{redisEventLogKey}, marker).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", countstore.ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

func (l *RedisEventLog) all(ctx context.Context) ([]event.AbuseEvent, error) {
	raws, err := l.Client.LRange(ctx, redisEventLogKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", countstore.ErrStoreUnavailable, err)
	}
	events := make([]event.AbuseEvent, 0, len(raws))
	for _, raw := range raws {
		var ev event.AbuseEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			// tolerate schema drift in old entries rather than failing the
			// whole query
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
