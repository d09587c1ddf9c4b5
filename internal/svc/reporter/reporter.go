package reporter

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"github.com/pulsekit/presence/internal/svc/identity"
	"github.com/pulsekit/presence/internal/svc/lifecycle"
	"github.com/pulsekit/presence/internal/svc/prometheus"
	"go.uber.org/zap"
)

// Instance translates lifecycle and identity-change events into keyed-store
// writes. All store failures are contained: they surface through the error
// callback and the display state, never past this boundary.
type Instance interface {
	// Initialize writes the online record for the current identity (if any),
	// registers the disconnect hook and starts consuming identity and
	// lifecycle events.
	Initialize(ctx context.Context)
	// OnLifecycleEvent invokes the matching user callback and, when enabled
	// and an identity is present, applies a lifecycle-only update.
	OnLifecycleEvent(ctx context.Context, ev lifecycle.Event)
	DisplayState() presence.DisplayState
	// LastError returns the most recent contained error and its stack.
	LastError() (error, []byte)
	// Dispose tears down the event subscriptions when AutoDispose is set.
	Dispose()
}

type Callbacks struct {
	OnInactive func()
	OnPaused   func()
	OnResumed  func()
	OnDetached func()
	// OnError receives every contained failure with its stack trace.
	OnError func(err error, stack []byte)
}

type Options struct {
	Store     store.Instance
	Identity  identity.Instance
	Lifecycle lifecycle.Source
	Events    events.Instance
	Metrics   prometheus.Instance

	// StorePath is the base path holding one record per user ID.
	StorePath string
	// SetLifecycleState enables lifecycle-only updates on transitions.
	SetLifecycleState bool
	// AutoDispose controls whether Dispose tears the subscriptions down. When
	// false they are intentionally left to the process lifetime.
	AutoDispose bool

	Callbacks Callbacks
}

type inst struct {
	opt Options

	mx      sync.Mutex
	state   presence.DisplayState
	lastRec presence.Record
	lastErr error
	stack   []byte

	cancels []func()
}

func New(opt Options) Instance {
	return &inst{
		opt:   opt,
		state: presence.DisplayStateInit,
	}
}

func (r *inst) Initialize(ctx context.Context) {
	if userID := r.opt.Identity.CurrentUserID(); userID != "" {
		r.goOnline(ctx, userID)
		r.registerDisconnectHook(ctx, userID)
	}

	idCh, cancelID := r.opt.Identity.Subscribe()
	lcCh, cancelLC := r.opt.Lifecycle.Subscribe()

	r.mx.Lock()
	r.cancels = append(r.cancels, cancelID, cancelLC)
	r.mx.Unlock()

	go func() {
		for change := range idCh {
			if change.UserID == "" {
				continue
			}

			// The online record is repeated per identity change; the
			// disconnect hook stays bound to the identity present at
			// initialization.
			r.goOnline(ctx, change.UserID)
		}
	}()

	go func() {
		for ev := range lcCh {
			r.OnLifecycleEvent(ctx, ev)
		}
	}()
}

func (r *inst) goOnline(ctx context.Context, userID string) {
	rec := presence.NewRecord(true, time.Now(), presence.LifecycleResumed)

	if err := r.opt.Store.Write(ctx, store.JoinPath(r.opt.StorePath, userID), rec); err != nil {
		r.fail(err)

		return
	}

	if r.opt.Metrics != nil {
		r.opt.Metrics.PresenceWrite()
	}

	if r.opt.Events != nil {
		if err := r.opt.Events.Dispatch(ctx, events.EventTypePresenceWrite, userID, &rec); err != nil {
			zap.S().Warnw("reporter, failed to dispatch presence write",
				"error", err,
				"user_id", userID,
			)
		}
	}

	r.mx.Lock()
	r.state = presence.DisplayStateResumed
	r.lastRec = rec
	r.mx.Unlock()
}

func (r *inst) registerDisconnectHook(ctx context.Context, userID string) {
	rec := presence.NewRecord(false, time.Now(), presence.LifecycleDetached)

	hook := r.opt.Store.OnDisconnect(store.JoinPath(r.opt.StorePath, userID))
	if err := hook.Write(ctx, rec); err != nil {
		r.fail(err)
	}
}

func (r *inst) OnLifecycleEvent(ctx context.Context, ev lifecycle.Event) {
	r.invokeCallback(ev.State)

	if !r.opt.SetLifecycleState {
		return
	}

	userID := r.opt.Identity.CurrentUserID()
	if userID == "" {
		return
	}

	err := r.opt.Store.Update(ctx, store.JoinPath(r.opt.StorePath, userID), presence.Partial{
		AppLifecycle: ev.State,
	})
	if err != nil {
		r.fail(err)

		return
	}

	if r.opt.Metrics != nil {
		r.opt.Metrics.LifecycleUpdate(string(ev.State))
	}

	// Dispatch the record as it stands after the update so consumers (the
	// archive among them) see the full transition, not just the state name.
	r.mx.Lock()
	r.lastRec.AppLifecycle = ev.State
	rec := r.lastRec
	r.mx.Unlock()

	if r.opt.Events != nil {
		if err := r.opt.Events.Dispatch(ctx, events.EventTypePresenceLifecycle, userID, &rec); err != nil {
			zap.S().Warnw("reporter, failed to dispatch lifecycle update",
				"error", err,
				"user_id", userID,
			)
		}
	}
}

// invokeCallback fires the user callback for the transition. A panicking
// callback is contained like any other failure.
func (r *inst) invokeCallback(state presence.Lifecycle) {
	var fn func()

	switch state {
	case presence.LifecycleInactive:
		fn = r.opt.Callbacks.OnInactive
	case presence.LifecyclePaused:
		fn = r.opt.Callbacks.OnPaused
	case presence.LifecycleResumed:
		fn = r.opt.Callbacks.OnResumed
	case presence.LifecycleDetached:
		fn = r.opt.Callbacks.OnDetached
	}

	if fn == nil {
		return
	}

	defer func() {
		if v := recover(); v != nil {
			r.fail(panicError{value: v})
		}
	}()

	fn()
}

func (r *inst) fail(err error) {
	stack := debug.Stack()

	r.mx.Lock()
	r.lastErr = err
	r.stack = stack
	r.state = presence.DisplayStateError
	r.mx.Unlock()

	zap.S().Errorw("reporter, store operation failed",
		"error", err,
	)

	if r.opt.Callbacks.OnError != nil {
		r.opt.Callbacks.OnError(err, stack)
	}
}

func (r *inst) DisplayState() presence.DisplayState {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.state
}

func (r *inst) LastError() (error, []byte) {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.lastErr, r.stack
}

func (r *inst) Dispose() {
	if !r.opt.AutoDispose {
		return
	}

	r.mx.Lock()
	cancels := r.cancels
	r.cancels = nil
	r.mx.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("lifecycle callback panicked: %v", e.value)
}
