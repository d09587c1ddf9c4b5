package rest

import (
	"strings"
	"time"

	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/svc/lifecycle"
	"github.com/valyala/fasthttp"
)

type lifecycleWriteBody struct {
	State presence.Lifecycle `json:"state"`
}

// lifecycleWrite authenticates the caller, binds the identity and emits the
// lifecycle transition to the reporter's event source.
func (s *httpServer) lifecycleWrite(ctx *fasthttp.RequestCtx) {
	userID, ok := ctx.UserValue("user_id").(string)
	if !ok || userID == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "missing user id")

		return
	}

	if s.gctx.Inst().Limiter != nil {
		allowed := s.gctx.Inst().Limiter.Test(ctx, userID, "lifecycle",
			s.gctx.Config().Limits.WriteRate,
			time.Duration(s.gctx.Config().Limits.WriteWindowSeconds)*time.Second,
		)
		if !allowed {
			writeError(ctx, fasthttp.StatusTooManyRequests, "rate limited")

			return
		}
	}

	token := strings.TrimPrefix(string(ctx.Request.Header.Peek("Authorization")), "Bearer ")
	if token == "" {
		writeError(ctx, fasthttp.StatusUnauthorized, "missing token")

		return
	}

	authedID, err := s.gctx.Inst().Identity.Authenticate(token)
	if err != nil {
		writeError(ctx, fasthttp.StatusUnauthorized, "invalid token")

		return
	}

	if authedID != userID {
		writeError(ctx, fasthttp.StatusForbidden, "token does not match user")

		return
	}

	var body lifecycleWriteBody
	if err := json.Unmarshal(ctx.Request.Body(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid body")

		return
	}

	switch body.State {
	case presence.LifecycleInactive, presence.LifecyclePaused, presence.LifecycleResumed, presence.LifecycleDetached:
	default:
		writeError(ctx, fasthttp.StatusBadRequest, "invalid lifecycle state")

		return
	}

	s.gctx.Inst().Lifecycle.Emit(lifecycle.Event{State: body.State})

	writeJSON(ctx, fasthttp.StatusOK, map[string]bool{"ok": true})
}
