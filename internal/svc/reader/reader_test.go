package reader

import (
	"context"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"github.com/pulsekit/presence/internal/store/memstore"
	"github.com/pulsekit/presence/internal/testutil"
)

func TestSubscribeDeliversRecord(t *testing.T) {
	t.Parallel()

	st := memstore.New(memstore.Options{})

	rec := presence.Record{
		IsOnline:     true,
		LastSeen:     1000,
		AppLifecycle: presence.LifecycleResumed,
	}

	err := st.Write(context.Background(), "status/app/u1", rec)
	testutil.IsNil(t, err, "record written")

	r := New(Options{Store: st})

	data := make(chan *presence.Record, 4)

	cancel := r.Subscribe(context.Background(), "status/app", "u1", func(rec *presence.Record) {
		data <- rec
	}, nil)
	defer cancel()

	select {
	case got := <-data:
		testutil.IsNotNil(t, got, "record delivered")
		testutil.Assert(t, rec, *got, "record contents")
	case <-time.After(time.Second):
		t.Fatal("no emission received")
	}

	testutil.Assert(t, presence.DisplayStateResumed, r.DisplayState(), "display state")
}

func TestSubscribeAbsentUserDeliversNil(t *testing.T) {
	t.Parallel()

	st := memstore.New(memstore.Options{})

	err := st.Write(context.Background(), "status/app/u1", presence.NewRecord(true, time.Now(), presence.LifecycleResumed))
	testutil.IsNil(t, err, "record written")

	r := New(Options{Store: st})

	data := make(chan *presence.Record, 4)

	cancel := r.Subscribe(context.Background(), "status/app", "nobody", func(rec *presence.Record) {
		data <- rec
	}, nil)
	defer cancel()

	select {
	case got := <-data:
		if got != nil {
			t.Fatalf("expected nil record, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no emission received")
	}
}

type fakeMetrics struct {
	mx    sync.Mutex
	emits int
}

func (m *fakeMetrics) Register(r promclient.Registerer) {}
func (m *fakeMetrics) PresenceWrite()                   {}
func (m *fakeMetrics) LifecycleUpdate(state string)     {}
func (m *fakeMetrics) DisconnectHookApplied()           {}

func (m *fakeMetrics) ReaderEmit() {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.emits++
}

func (m *fakeMetrics) count() int {
	m.mx.Lock()
	defer m.mx.Unlock()

	return m.emits
}

func TestSubscribeAbsentUserStaysInit(t *testing.T) {
	t.Parallel()

	st := memstore.New(memstore.Options{})
	met := &fakeMetrics{}

	r := New(Options{Store: st, Metrics: met})

	data := make(chan *presence.Record, 4)

	cancel := r.Subscribe(context.Background(), "status/app", "u1", func(rec *presence.Record) {
		data <- rec
	}, nil)
	defer cancel()

	// A none delivery neither advances the display state nor counts as an
	// emission.
	select {
	case got := <-data:
		if got != nil {
			t.Fatalf("expected nil record, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial emission")
	}

	testutil.Assert(t, presence.DisplayStateInit, r.DisplayState(), "display state after none delivery")
	testutil.Assert(t, 0, met.count(), "emit count after none delivery")

	err := st.Write(context.Background(), "status/app/u1", presence.NewRecord(true, time.Now(), presence.LifecycleResumed))
	testutil.IsNil(t, err, "record written")

	select {
	case got := <-data:
		testutil.IsNotNil(t, got, "record delivered")
	case <-time.After(time.Second):
		t.Fatal("no emission after write")
	}

	testutil.Assert(t, presence.DisplayStateResumed, r.DisplayState(), "display state after data delivery")
	testutil.Assert(t, 1, met.count(), "emit count after data delivery")
}

func TestSubscribeObservesLaterWrites(t *testing.T) {
	t.Parallel()

	st := memstore.New(memstore.Options{})

	r := New(Options{Store: st})

	data := make(chan *presence.Record, 4)

	cancel := r.Subscribe(context.Background(), "status/app", "u1", func(rec *presence.Record) {
		data <- rec
	}, nil)
	defer cancel()

	// Initial snapshot has no record.
	select {
	case got := <-data:
		if got != nil {
			t.Fatalf("expected nil record, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial emission")
	}

	rec := presence.NewRecord(true, time.Now(), presence.LifecycleResumed)

	err := st.Write(context.Background(), "status/app/u1", rec)
	testutil.IsNil(t, err, "record written")

	select {
	case got := <-data:
		testutil.IsNotNil(t, got, "record delivered")
		testutil.Assert(t, rec, *got, "record contents")
	case <-time.After(time.Second):
		t.Fatal("no emission after write")
	}
}

// corruptStore emits a snapshot whose record cannot be decoded.
type corruptStore struct {
	store.Instance
}

func (s corruptStore) Subscribe(ctx context.Context, path string, ch chan<- store.Snapshot) {
	snap := store.Snapshot{
		"u1": jsoniter.RawMessage(`{"isOnline": "not a bool"}`),
	}

	select {
	case <-ctx.Done():
	case ch <- snap:
	}

	<-ctx.Done()
}

func TestSubscribeDecodeFailure(t *testing.T) {
	t.Parallel()

	r := New(Options{Store: corruptStore{Instance: memstore.New(memstore.Options{})}})

	errs := make(chan error, 4)

	cancel := r.Subscribe(context.Background(), "status/app", "u1", func(rec *presence.Record) {
		t.Error("onData must not be called when onError is supplied")
	}, func(err error, stack []byte) {
		if len(stack) == 0 {
			t.Error("missing stack trace")
		}

		errs <- err
	})
	defer cancel()

	select {
	case err := <-errs:
		testutil.IsNotNil(t, err, "decode error delivered")
	case <-time.After(time.Second):
		t.Fatal("no error received")
	}

	testutil.Assert(t, presence.DisplayStateError, r.DisplayState(), "display state")
}

func TestSubscribeDecodeFailureFallsBackToData(t *testing.T) {
	t.Parallel()

	r := New(Options{Store: corruptStore{Instance: memstore.New(memstore.Options{})}})

	data := make(chan *presence.Record, 4)

	cancel := r.Subscribe(context.Background(), "status/app", "u1", func(rec *presence.Record) {
		data <- rec
	}, nil)
	defer cancel()

	select {
	case got := <-data:
		if got != nil {
			t.Fatalf("expected nil record, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no fallback emission received")
	}
}
