package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Instance interface {
	// Test consumes one unit from the bucket identified by (identifier,
	// bucket) and reports whether the caller is still within limit. Failures
	// to evaluate fail open.
	Test(ctx context.Context, identifier, bucket string, limit int64, dur time.Duration) bool

	ScriptOk(ctx context.Context) bool
	LoadScript(ctx context.Context) error
}

type limiterInst struct {
	rc     redis.UniversalClient
	prefix string
	script string

	mx *sync.Mutex
}

func New(ctx context.Context, rc redis.UniversalClient, prefix string) (Instance, error) {
	l := limiterInst{
		rc:     rc,
		prefix: prefix,
		mx:     &sync.Mutex{},
	}

	if err := l.LoadScript(ctx); err != nil {
		return &l, err
	}

	return &l, nil
}

func (inst *limiterInst) ScriptOk(ctx context.Context) bool {
	ok, _ := inst.rc.ScriptExists(ctx, inst.script).Result()
	if len(ok) == 0 || !ok[0] {
		return false
	}

	return true
}

func (inst *limiterInst) LoadScript(ctx context.Context) error {
	inst.mx.Lock()
	defer inst.mx.Unlock()

	var err error

	inst.script, err = inst.rc.ScriptLoad(ctx, `
		local key = ARGV[1]
		local expire = tonumber(ARGV[2])
		local limit = tonumber(ARGV[3])
		local by = tonumber(ARGV[4])

		local exists = redis.call("EXISTS", key)

		local count = redis.call("INCRBY", key, by)

		if exists == 0 then
			redis.call("EXPIRE", key, expire)
			return {count, expire}
		end

		local ttl = redis.call("TTL", key)

		return {count, ttl}
`).Result()
	if err != nil {
		return err
	}

	return nil
}

func (inst *limiterInst) Test(ctx context.Context, identifier, bucket string, limit int64, dur time.Duration) bool {
	if identifier == "" {
		identifier = "any"
	}

	h := sha256.New()
	h.Write([]byte(identifier))
	h.Write([]byte(bucket))

	k := inst.prefix + ":rl:" + hex.EncodeToString(h.Sum(nil))

	res, err := inst.rc.EvalSha(
		ctx,
		inst.script,
		[]string{},
		k,
		int64(dur.Seconds()),
		limit,
		1,
	).Result()
	if err != nil {
		zap.S().Errorw("limiter, failed to test",
			"key", k,
			"error", err,
		)

		return true
	}

	result, ok := res.([]any)
	if !ok || len(result) == 0 {
		return true
	}

	count, ok := result[0].(int64)
	if !ok {
		return true
	}

	return count <= limit
}
