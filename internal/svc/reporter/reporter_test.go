package reporter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"github.com/pulsekit/presence/internal/svc/identity"
	"github.com/pulsekit/presence/internal/svc/lifecycle"
	"github.com/pulsekit/presence/internal/testutil"
)

type fakeStore struct {
	mx      sync.Mutex
	writes  []fakeWrite
	updates []fakeUpdate
	hooks   []fakeWrite

	failWrites  bool
	failUpdates bool
}

type fakeWrite struct {
	path string
	rec  presence.Record
}

type fakeUpdate struct {
	path    string
	partial presence.Partial
}

func (s *fakeStore) Write(ctx context.Context, path string, rec presence.Record) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.failWrites {
		return fmt.Errorf("write refused")
	}

	s.writes = append(s.writes, fakeWrite{path: path, rec: rec})

	return nil
}

func (s *fakeStore) Update(ctx context.Context, path string, partial presence.Partial) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.failUpdates {
		return fmt.Errorf("update refused")
	}

	s.updates = append(s.updates, fakeUpdate{path: path, partial: partial})

	return nil
}

func (s *fakeStore) OnDisconnect(path string) store.DisconnectHook {
	return &fakeHook{store: s, path: path}
}

type fakeHook struct {
	store *fakeStore
	path  string
}

func (h *fakeHook) Write(ctx context.Context, rec presence.Record) error {
	h.store.mx.Lock()
	defer h.store.mx.Unlock()

	h.store.hooks = append(h.store.hooks, fakeWrite{path: h.path, rec: rec})

	return nil
}

func (h *fakeHook) Cancel(ctx context.Context) error {
	return nil
}

func (s *fakeStore) Subscribe(ctx context.Context, path string, ch chan<- store.Snapshot) {
	<-ctx.Done()
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return nil
}

func (s *fakeStore) Close(ctx context.Context) error {
	return nil
}

func (s *fakeStore) counts() (int, int, int) {
	s.mx.Lock()
	defer s.mx.Unlock()

	return len(s.writes), len(s.updates), len(s.hooks)
}

type fakeEvents struct {
	mx         sync.Mutex
	dispatches []fakeDispatch
}

type fakeDispatch struct {
	t      events.EventType
	userID string
	rec    *presence.Record
}

func (e *fakeEvents) Publish(ctx context.Context, msg events.Message[jsoniter.RawMessage]) error {
	return nil
}

func (e *fakeEvents) Dispatch(ctx context.Context, t events.EventType, userID string, rec *presence.Record) error {
	e.mx.Lock()
	defer e.mx.Unlock()

	e.dispatches = append(e.dispatches, fakeDispatch{t: t, userID: userID, rec: rec})

	return nil
}

func (e *fakeEvents) all() []fakeDispatch {
	e.mx.Lock()
	defer e.mx.Unlock()

	return append([]fakeDispatch(nil), e.dispatches...)
}

func newIdentity(t *testing.T, userID string) identity.Instance {
	id := identity.New(identity.Options{JWTSecret: "test-secret"})

	if userID != "" {
		token, err := id.SignJWT(identity.Claims{UserID: userID})
		testutil.IsNil(t, err, "token signed")

		_, err = id.Authenticate(token)
		testutil.IsNil(t, err, "token accepted")
	}

	return id
}

func waitFor(t *testing.T, message string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second * 2)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(time.Millisecond * 10)
	}

	t.Fatalf("%s: condition never met", message)
}

func TestInitializeWithIdentity(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "u1")

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
	})

	r.Initialize(context.Background())

	writes, updates, hooks := st.counts()
	testutil.Assert(t, 1, writes, "write count")
	testutil.Assert(t, 0, updates, "update count")
	testutil.Assert(t, 1, hooks, "hook count")

	testutil.Assert(t, "status/app/u1", st.writes[0].path, "write path")
	testutil.Assert(t, true, st.writes[0].rec.IsOnline, "online flag")
	testutil.Assert(t, presence.LifecycleResumed, st.writes[0].rec.AppLifecycle, "write lifecycle")

	testutil.Assert(t, "status/app/u1", st.hooks[0].path, "hook path")
	testutil.Assert(t, false, st.hooks[0].rec.IsOnline, "hook online flag")
	testutil.Assert(t, presence.LifecycleDetached, st.hooks[0].rec.AppLifecycle, "hook lifecycle")

	testutil.Assert(t, presence.DisplayStateResumed, r.DisplayState(), "display state")

	r.Dispose()
}

func TestInitializeWithoutIdentity(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "")

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
	})

	r.Initialize(context.Background())

	writes, _, hooks := st.counts()
	testutil.Assert(t, 0, writes, "write count")
	testutil.Assert(t, 0, hooks, "hook count")

	// An identity arriving later triggers exactly one online write and no
	// hook registration.
	token, err := id.SignJWT(identity.Claims{UserID: "u2"})
	testutil.IsNil(t, err, "token signed")

	_, err = id.Authenticate(token)
	testutil.IsNil(t, err, "token accepted")

	waitFor(t, "online write after identity change", func() bool {
		writes, _, _ := st.counts()

		return writes == 1
	})

	writes, updates, hooks := st.counts()
	testutil.Assert(t, 1, writes, "write count")
	testutil.Assert(t, 0, updates, "update count")
	testutil.Assert(t, 0, hooks, "hook count")
	testutil.Assert(t, "status/app/u2", st.writes[0].path, "write path")

	r.Dispose()
}

func TestLifecycleEventCallbacksAndUpdates(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "u1")

	calls := map[presence.Lifecycle]int{}
	var mx sync.Mutex

	count := func(state presence.Lifecycle) func() {
		return func() {
			mx.Lock()
			defer mx.Unlock()

			calls[state]++
		}
	}

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
		Callbacks: Callbacks{
			OnInactive: count(presence.LifecycleInactive),
			OnPaused:   count(presence.LifecyclePaused),
			OnResumed:  count(presence.LifecycleResumed),
			OnDetached: count(presence.LifecycleDetached),
		},
	})

	r.Initialize(context.Background())

	states := []presence.Lifecycle{
		presence.LifecycleInactive,
		presence.LifecycleResumed,
		presence.LifecyclePaused,
		presence.LifecycleDetached,
	}

	for _, state := range states {
		r.OnLifecycleEvent(context.Background(), lifecycle.Event{State: state})
	}

	mx.Lock()
	for _, state := range states {
		testutil.Assert(t, 1, calls[state], "callback count for "+string(state))
	}
	mx.Unlock()

	_, updates, _ := st.counts()
	testutil.Assert(t, len(states), updates, "update count")

	for i, state := range states {
		testutil.Assert(t, "status/app/u1", st.updates[i].path, "update path")
		testutil.Assert(t, state, st.updates[i].partial.AppLifecycle, "update state")
	}

	r.Dispose()
}

func TestLifecycleUpdateDisabled(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "u1")

	var called int

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: false,
		AutoDispose:       true,
		Callbacks: Callbacks{
			OnPaused: func() { called++ },
		},
	})

	r.Initialize(context.Background())
	r.OnLifecycleEvent(context.Background(), lifecycle.Event{State: presence.LifecyclePaused})

	testutil.Assert(t, 1, called, "callback count")

	_, updates, _ := st.counts()
	testutil.Assert(t, 0, updates, "update count")

	r.Dispose()
}

func TestLifecycleUpdateSkippedWithoutIdentity(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "")

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
	})

	r.Initialize(context.Background())
	r.OnLifecycleEvent(context.Background(), lifecycle.Event{State: presence.LifecycleInactive})

	_, updates, _ := st.counts()
	testutil.Assert(t, 0, updates, "update count")
	testutil.Assert(t, presence.DisplayStateInit, r.DisplayState(), "display state")

	r.Dispose()
}

func TestWriteFailureIsContained(t *testing.T) {
	t.Parallel()

	st := &fakeStore{failWrites: true}
	id := newIdentity(t, "u1")

	var (
		gotErr   error
		gotStack []byte
	)

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
		Callbacks: Callbacks{
			OnError: func(err error, stack []byte) {
				gotErr = err
				gotStack = stack
			},
		},
	})

	r.Initialize(context.Background())

	testutil.IsNotNil(t, gotErr, "error callback invoked")
	testutil.Assert(t, "write refused", gotErr.Error(), "error message")
	testutil.Assert(t, true, len(gotStack) > 0, "stack captured")
	testutil.Assert(t, presence.DisplayStateError, r.DisplayState(), "display state")

	lastErr, lastStack := r.LastError()
	testutil.Assert(t, gotErr.Error(), lastErr.Error(), "stored error")
	testutil.Assert(t, true, len(lastStack) > 0, "stored stack")

	r.Dispose()
}

func TestUpdateFailureIsContained(t *testing.T) {
	t.Parallel()

	st := &fakeStore{failUpdates: true}
	id := newIdentity(t, "u1")

	var (
		gotErr   error
		gotStack []byte
	)

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
		Callbacks: Callbacks{
			OnError: func(err error, stack []byte) {
				gotErr = err
				gotStack = stack
			},
		},
	})

	r.Initialize(context.Background())

	testutil.Assert(t, presence.DisplayStateResumed, r.DisplayState(), "display state before update")

	r.OnLifecycleEvent(context.Background(), lifecycle.Event{State: presence.LifecyclePaused})

	testutil.IsNotNil(t, gotErr, "error callback invoked")
	testutil.Assert(t, "update refused", gotErr.Error(), "error message")
	testutil.Assert(t, true, len(gotStack) > 0, "stack captured")
	testutil.Assert(t, presence.DisplayStateError, r.DisplayState(), "display state")

	r.Dispose()
}

func TestLifecycleDispatchCarriesRecord(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "u1")
	ev := &fakeEvents{}

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		Events:            ev,
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
	})

	r.Initialize(context.Background())
	r.OnLifecycleEvent(context.Background(), lifecycle.Event{State: presence.LifecyclePaused})

	dispatches := ev.all()
	testutil.Assert(t, 2, len(dispatches), "dispatch count")

	testutil.Assert(t, events.EventTypePresenceWrite, dispatches[0].t, "first dispatch type")
	testutil.Assert(t, "u1", dispatches[0].userID, "first dispatch user")
	testutil.IsNotNil(t, dispatches[0].rec, "write dispatch record")

	// The lifecycle dispatch carries the record as updated, so history
	// consumers see the full transition.
	testutil.Assert(t, events.EventTypePresenceLifecycle, dispatches[1].t, "second dispatch type")
	testutil.IsNotNil(t, dispatches[1].rec, "lifecycle dispatch record")
	testutil.Assert(t, true, dispatches[1].rec.IsOnline, "online flag carried through")
	testutil.Assert(t, presence.LifecyclePaused, dispatches[1].rec.AppLifecycle, "updated lifecycle state")

	r.Dispose()
}

func TestCallbackPanicIsContained(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "u1")

	var gotErr error

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         lifecycle.New(),
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
		Callbacks: Callbacks{
			OnResumed: func() { panic("boom") },
			OnError: func(err error, stack []byte) {
				gotErr = err
			},
		},
	})

	r.Initialize(context.Background())
	r.OnLifecycleEvent(context.Background(), lifecycle.Event{State: presence.LifecycleResumed})

	testutil.IsNotNil(t, gotErr, "error callback invoked")

	// The lifecycle update still goes through after the callback failure.
	_, updates, _ := st.counts()
	testutil.Assert(t, 1, updates, "update count")

	r.Dispose()
}

func TestLifecycleSourceSubscription(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "u1")
	src := lifecycle.New()

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         src,
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
	})

	r.Initialize(context.Background())

	src.Emit(lifecycle.Event{State: presence.LifecyclePaused})

	waitFor(t, "update from lifecycle source", func() bool {
		_, updates, _ := st.counts()

		return updates == 1
	})

	testutil.Assert(t, presence.LifecyclePaused, st.updates[0].partial.AppLifecycle, "update state")

	r.Dispose()
}

func TestDisposeStopsSubscriptions(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	id := newIdentity(t, "u1")
	src := lifecycle.New()

	r := New(Options{
		Store:             st,
		Identity:          id,
		Lifecycle:         src,
		StorePath:         "status/app",
		SetLifecycleState: true,
		AutoDispose:       true,
	})

	r.Initialize(context.Background())
	r.Dispose()

	src.Emit(lifecycle.Event{State: presence.LifecyclePaused})

	time.Sleep(time.Millisecond * 50)

	_, updates, _ := st.counts()
	testutil.Assert(t, 0, updates, "update count after dispose")
}

var _ store.Instance = (*fakeStore)(nil)
