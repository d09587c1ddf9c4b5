package presence

import (
	"fmt"
	"testing"

	"github.com/pulsekit/presence/internal/testutil"
)

func TestSelectView(t *testing.T) {
	t.Parallel()

	rec := &Record{IsOnline: true, LastSeen: 1000, AppLifecycle: LifecycleResumed}

	cases := []struct {
		state DisplayState
		data  *Record
		err   error
		want  ViewKind
	}{
		{DisplayStateInit, nil, nil, ViewKindEmpty},
		{DisplayStateInit, rec, nil, ViewKindEmpty},
		{DisplayStateResumed, nil, nil, ViewKindEmpty},
		{DisplayStateResumed, rec, nil, ViewKindData},
		{DisplayStateError, rec, nil, ViewKindError},
		{DisplayStateResumed, rec, fmt.Errorf("boom"), ViewKindError},
	}

	for _, c := range cases {
		testutil.Assert(t, c.want, SelectView(c.state, c.data, c.err), "view for "+c.state.String())
	}
}

func TestLifecycleValid(t *testing.T) {
	t.Parallel()

	for _, lc := range []Lifecycle{LifecycleInit, LifecycleInactive, LifecyclePaused, LifecycleResumed, LifecycleDetached, LifecycleError} {
		testutil.Assert(t, true, lc.Valid(), "valid "+string(lc))
	}

	testutil.Assert(t, false, Lifecycle("suspended").Valid(), "unknown state")
	testutil.Assert(t, false, Lifecycle("").Valid(), "empty state")
}
