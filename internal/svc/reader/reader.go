package reader

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"github.com/pulsekit/presence/internal/svc/prometheus"
	"go.uber.org/zap"
)

// Instance subscribes to one record in the keyed store and republishes it as
// typed snapshots. No retry or backoff: subscription reliability is the
// store's concern.
type Instance interface {
	// Subscribe opens a realtime subscription on path and delivers the record
	// under userID via onData on every emission (nil when absent). Decode
	// failures go to onError when supplied, otherwise onData(nil). The
	// returned function cancels the subscription.
	Subscribe(ctx context.Context, path, userID string, onData func(*presence.Record), onError func(err error, stack []byte)) func()
	DisplayState() presence.DisplayState
}

type Options struct {
	Store   store.Instance
	Metrics prometheus.Instance
}

type inst struct {
	opt Options

	mx    sync.Mutex
	state presence.DisplayState
}

func New(opt Options) Instance {
	return &inst{
		opt:   opt,
		state: presence.DisplayStateInit,
	}
}

func (r *inst) Subscribe(ctx context.Context, path, userID string, onData func(*presence.Record), onError func(err error, stack []byte)) func() {
	subCtx, cancel := context.WithCancel(ctx)

	ch := make(chan store.Snapshot, 16)

	go r.opt.Store.Subscribe(subCtx, path, ch)

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case snap := <-ch:
				r.deliver(snap, userID, onData, onError)
			}
		}
	}()

	return cancel
}

func (r *inst) deliver(snap store.Snapshot, userID string, onData func(*presence.Record), onError func(err error, stack []byte)) {
	rec, ok, err := snap.Child(userID)
	if err != nil {
		r.setState(presence.DisplayStateError)

		zap.S().Errorw("reader, failed to decode record",
			"error", err,
			"user_id", userID,
		)

		if onError != nil {
			onError(err, debug.Stack())
		} else {
			onData(nil)
		}

		return
	}

	// An emission without the record is a none delivery; the display state
	// only advances to resumed once there is data to show.
	if !ok {
		onData(nil)

		return
	}

	r.setState(presence.DisplayStateResumed)

	if r.opt.Metrics != nil {
		r.opt.Metrics.ReaderEmit()
	}

	onData(&rec)
}

func (r *inst) setState(s presence.DisplayState) {
	r.mx.Lock()
	defer r.mx.Unlock()

	r.state = s
}

func (r *inst) DisplayState() presence.DisplayState {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.state
}
