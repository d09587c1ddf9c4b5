package redisstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"github.com/pulsekit/presence/internal/svc/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	Username   string
	Password   string
	Database   int
	Addresses  []string
	Sentinel   bool
	MasterName string

	// Client, when set, is used instead of dialing a new connection.
	Client redis.UniversalClient

	// KeyPrefix namespaces every key this client touches.
	KeyPrefix string
	// SessionTTL is how long a client may go silent before its disconnect
	// hooks are applied by a reaper.
	SessionTTL time.Duration

	// Events, when set, receives a disconnect dispatch per applied hook.
	Events events.Instance
	// Metrics, when set, counts applied hooks.
	Metrics prometheus.Instance
}

// NewClient dials a standalone or sentinel-backed client for the given
// options.
func NewClient(opt Options) redis.UniversalClient {
	masterName := ""
	if opt.Sentinel {
		masterName = opt.MasterName
	}

	return redis.NewUniversalClient(&redis.UniversalOptions{
		MasterName: masterName,
		Username:   opt.Username,
		Password:   opt.Password,
		DB:         opt.Database,
		Addrs:      opt.Addresses,
	})
}

type redisStore struct {
	ctx context.Context
	rc  redis.UniversalClient

	prefix    string
	sessionID string
	ttl       time.Duration

	events  events.Instance
	metrics prometheus.Instance

	mx    sync.Mutex
	hooks map[string]presence.Record

	done      chan struct{}
	closeOnce sync.Once
}

func New(ctx context.Context, opt Options) (store.Instance, error) {
	if opt.SessionTTL <= 0 {
		opt.SessionTTL = time.Second * 30
	}

	rc := opt.Client
	if rc == nil {
		rc = NewClient(opt)
	}

	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	s := &redisStore{
		ctx:       ctx,
		rc:        rc,
		prefix:    opt.KeyPrefix,
		sessionID: uuid.NewString(),
		ttl:       opt.SessionTTL,
		events:    opt.Events,
		metrics:   opt.Metrics,
		hooks:     map[string]presence.Record{},
		done:      make(chan struct{}),
	}

	if err := s.rc.Set(ctx, s.sessionKey(s.sessionID), "1", s.ttl).Err(); err != nil {
		return nil, err
	}

	if err := s.rc.SAdd(ctx, s.key("sessions"), s.sessionID).Err(); err != nil {
		return nil, err
	}

	go s.heartbeat()
	go s.reap()

	return s, nil
}

func (s *redisStore) key(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, ":")
	}

	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *redisStore) sessionKey(id string) string {
	return s.key("session", id)
}

func (s *redisStore) hooksKey(id string) string {
	return s.key("hooks", id)
}

func (s *redisStore) notifyChannel(base string) string {
	return s.key("notify", base)
}

func (s *redisStore) Write(ctx context.Context, path string, rec presence.Record) error {
	base, leaf, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	p := s.rc.Pipeline()
	p.HSet(ctx, s.key("data", base), leaf, raw)
	p.Publish(ctx, s.notifyChannel(base), leaf)

	_, err = p.Exec(ctx)

	return err
}

func (s *redisStore) Update(ctx context.Context, path string, partial presence.Partial) error {
	base, leaf, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	// Read-modify-write; concurrent writers resolve last-write-wins.
	var rec presence.Record

	raw, err := s.rc.HGet(ctx, s.key("data", base), leaf).Bytes()
	if err != nil && err != redis.Nil {
		return err
	}

	if err == nil {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
	}

	rec.AppLifecycle = partial.AppLifecycle

	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	p := s.rc.Pipeline()
	p.HSet(ctx, s.key("data", base), leaf, out)
	p.Publish(ctx, s.notifyChannel(base), leaf)

	_, err = p.Exec(ctx)

	return err
}

// Subscribe blocks until ctx is done. Run it on its own goroutine.
func (s *redisStore) Subscribe(ctx context.Context, path string, ch chan<- store.Snapshot) {
	base := strings.Trim(path, "/")

	sub := s.rc.Subscribe(ctx, s.notifyChannel(base))
	defer func() {
		_ = sub.Close()
	}()

	emit := func() bool {
		snap, err := s.snapshot(ctx, base)
		if err != nil {
			zap.S().Errorw("redisstore, failed to read snapshot",
				"error", err,
				"path", base,
			)

			return true
		}

		select {
		case <-ctx.Done():
			return false
		case ch <- snap:
			return true
		}
	}

	if !emit() {
		return
	}

	msgs := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}

			if !emit() {
				return
			}
		}
	}
}

func (s *redisStore) snapshot(ctx context.Context, base string) (store.Snapshot, error) {
	m, err := s.rc.HGetAll(ctx, s.key("data", base)).Result()
	if err != nil {
		return nil, err
	}

	snap := make(store.Snapshot, len(m))
	for leaf, raw := range m {
		snap[leaf] = jsoniter.RawMessage(raw)
	}

	return snap, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.rc.Ping(ctx).Err()
}

func (s *redisStore) Close(ctx context.Context) error {
	var err error

	s.closeOnce.Do(func() {
		close(s.done)

		err = s.applyHooks(ctx, s.sessionID)

		err = multierr.Append(err, s.rc.Del(ctx, s.sessionKey(s.sessionID)).Err())
		err = multierr.Append(err, s.rc.SRem(ctx, s.key("sessions"), s.sessionID).Err())

		err = multierr.Append(err, s.rc.Close())
	})

	return err
}
