// Package memstore is an in-process store.Instance used for development and
// tests. Disconnect hooks are applied on Close.
package memstore

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"github.com/pulsekit/presence/internal/svc/prometheus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	// Events, when set, receives a disconnect dispatch per hook applied on
	// Close.
	Events events.Instance
	// Metrics, when set, counts applied hooks.
	Metrics prometheus.Instance
}

type memStore struct {
	opt Options

	mx    sync.Mutex
	data  map[string]map[string]jsoniter.RawMessage
	hooks map[string]presence.Record
	subs  map[string][]chan<- store.Snapshot

	closed bool
}

func New(opt Options) store.Instance {
	return &memStore{
		opt:   opt,
		data:  map[string]map[string]jsoniter.RawMessage{},
		hooks: map[string]presence.Record{},
		subs:  map[string][]chan<- store.Snapshot{},
	}
}

func (s *memStore) Write(ctx context.Context, path string, rec presence.Record) error {
	base, leaf, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.data[base] == nil {
		s.data[base] = map[string]jsoniter.RawMessage{}
	}

	s.data[base][leaf] = raw

	s.notify(base)

	return nil
}

func (s *memStore) Update(ctx context.Context, path string, partial presence.Partial) error {
	base, leaf, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	var rec presence.Record

	if raw, ok := s.data[base][leaf]; ok {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
	}

	rec.AppLifecycle = partial.AppLifecycle

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if s.data[base] == nil {
		s.data[base] = map[string]jsoniter.RawMessage{}
	}

	s.data[base][leaf] = raw

	s.notify(base)

	return nil
}

func (s *memStore) OnDisconnect(path string) store.DisconnectHook {
	return &memHook{store: s, path: path}
}

type memHook struct {
	store *memStore
	path  string
}

func (h *memHook) Write(ctx context.Context, rec presence.Record) error {
	h.store.mx.Lock()
	defer h.store.mx.Unlock()

	h.store.hooks[h.path] = rec

	return nil
}

func (h *memHook) Cancel(ctx context.Context) error {
	h.store.mx.Lock()
	defer h.store.mx.Unlock()

	delete(h.store.hooks, h.path)

	return nil
}

func (s *memStore) Subscribe(ctx context.Context, path string, ch chan<- store.Snapshot) {
	s.mx.Lock()

	snap := s.snapshot(path)
	s.subs[path] = append(s.subs[path], ch)

	s.mx.Unlock()

	select {
	case <-ctx.Done():
	case ch <- snap:
	}

	<-ctx.Done()

	s.mx.Lock()
	defer s.mx.Unlock()

	chans := s.subs[path]
	for i, c := range chans {
		if c == ch {
			s.subs[path] = append(chans[:i], chans[i+1:]...)

			break
		}
	}
}

// notify is called with mx held.
func (s *memStore) notify(base string) {
	snap := s.snapshot(base)

	for _, ch := range s.subs[base] {
		select {
		case ch <- snap:
		default:
		}
	}
}

// snapshot is called with mx held.
func (s *memStore) snapshot(base string) store.Snapshot {
	snap := make(store.Snapshot, len(s.data[base]))
	for leaf, raw := range s.data[base] {
		snap[leaf] = raw
	}

	return snap
}

func (s *memStore) Ping(ctx context.Context) error {
	return nil
}

func (s *memStore) Close(ctx context.Context) error {
	s.mx.Lock()

	if s.closed {
		s.mx.Unlock()

		return nil
	}

	s.closed = true

	hooks := make(map[string]presence.Record, len(s.hooks))
	for path, rec := range s.hooks {
		hooks[path] = rec
	}

	s.mx.Unlock()

	for path, rec := range hooks {
		rec.LastSeen = time.Now().UnixMilli()

		if err := s.Write(ctx, path, rec); err != nil {
			return err
		}

		if s.opt.Metrics != nil {
			s.opt.Metrics.DisconnectHookApplied()
		}

		if s.opt.Events != nil {
			if _, leaf, err := store.SplitPath(path); err == nil {
				if err := s.opt.Events.Dispatch(ctx, events.EventTypePresenceDisconnect, leaf, &rec); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
