package eventbridge

import (
	"fmt"

	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/global"
	"github.com/pulsekit/presence/internal/svc/lifecycle"
)

type lifecycleCommandBody struct {
	State presence.Lifecycle `json:"state"`
}

func handleLifecycle(gctx global.Context, body []byte) error {
	var cmd lifecycleCommandBody
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("invalid lifecycle command: %w", err)
	}

	switch cmd.State {
	case presence.LifecycleInactive, presence.LifecyclePaused, presence.LifecycleResumed, presence.LifecycleDetached:
	default:
		return fmt.Errorf("invalid lifecycle state: %q", cmd.State)
	}

	gctx.Inst().Lifecycle.Emit(lifecycle.Event{State: cmd.State})

	return nil
}

type identityCommandBody struct {
	// Token authenticates a new identity; an empty token signs out.
	Token string `json:"token"`
}

func handleIdentity(gctx global.Context, body []byte) error {
	var cmd identityCommandBody
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("invalid identity command: %w", err)
	}

	if cmd.Token == "" {
		gctx.Inst().Identity.Clear()

		return nil
	}

	if _, err := gctx.Inst().Identity.Authenticate(cmd.Token); err != nil {
		return fmt.Errorf("identity rejected: %w", err)
	}

	return nil
}
