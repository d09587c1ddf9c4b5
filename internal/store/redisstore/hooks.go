package redisstore

import (
	"context"
	"time"

	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OnDisconnect registers a future write at path. The write is executed by
// whichever store client observes this session's liveness key lapse, or by
// Close on a graceful shutdown.
func (s *redisStore) OnDisconnect(path string) store.DisconnectHook {
	return &disconnectHook{store: s, path: path}
}

type disconnectHook struct {
	store *redisStore
	path  string
}

func (h *disconnectHook) Write(ctx context.Context, rec presence.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := h.store.rc.HSet(ctx, h.store.hooksKey(h.store.sessionID), h.path, raw).Err(); err != nil {
		return err
	}

	h.store.mx.Lock()
	h.store.hooks[h.path] = rec
	h.store.mx.Unlock()

	return nil
}

func (h *disconnectHook) Cancel(ctx context.Context) error {
	h.store.mx.Lock()
	delete(h.store.hooks, h.path)
	h.store.mx.Unlock()

	return h.store.rc.HDel(ctx, h.store.hooksKey(h.store.sessionID), h.path).Err()
}

// heartbeat keeps this session's liveness key alive.
func (s *redisStore) heartbeat() {
	ticker := time.NewTicker(s.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.rc.Set(s.ctx, s.sessionKey(s.sessionID), "1", s.ttl).Err(); err != nil {
				zap.S().Warnw("redisstore, failed to refresh session",
					"error", err,
					"session_id", s.sessionID,
				)
			}
		}
	}
}

// reap applies the disconnect hooks of sessions whose liveness key expired.
func (s *redisStore) reap() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			sessions, err := s.rc.SMembers(s.ctx, s.key("sessions")).Result()
			if err != nil {
				zap.S().Warnw("redisstore, failed to list sessions",
					"error", err,
				)

				continue
			}

			for _, id := range sessions {
				if id == s.sessionID {
					continue
				}

				alive, err := s.rc.Exists(s.ctx, s.sessionKey(id)).Result()
				if err != nil || alive > 0 {
					continue
				}

				if err := s.applyHooks(s.ctx, id); err != nil {
					zap.S().Errorw("redisstore, failed to apply disconnect hooks",
						"error", err,
						"session_id", id,
					)

					continue
				}

				_ = s.rc.SRem(s.ctx, s.key("sessions"), id).Err()
			}
		}
	}
}

// applyHooks executes every pending hook of the given session, stamping the
// record with the time of application.
func (s *redisStore) applyHooks(ctx context.Context, sessionID string) error {
	pending, err := s.rc.HGetAll(ctx, s.hooksKey(sessionID)).Result()
	if err != nil {
		return err
	}

	var errs error

	for path, raw := range pending {
		var rec presence.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			errs = multierr.Append(errs, err)

			continue
		}

		rec.LastSeen = time.Now().UnixMilli()

		if err := s.Write(ctx, path, rec); err != nil {
			errs = multierr.Append(errs, err)

			continue
		}

		if s.metrics != nil {
			s.metrics.DisconnectHookApplied()
		}

		if s.events != nil {
			if _, leaf, err := store.SplitPath(path); err == nil {
				if err := s.events.Dispatch(ctx, events.EventTypePresenceDisconnect, leaf, &rec); err != nil {
					zap.S().Warnw("redisstore, failed to dispatch disconnect",
						"error", err,
						"path", path,
					)
				}
			}
		}

		if err := s.rc.HDel(ctx, s.hooksKey(sessionID), path).Err(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
