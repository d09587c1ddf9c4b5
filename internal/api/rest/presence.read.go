package rest

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pulsekit/presence/data/presence"
	"github.com/pulsekit/presence/internal/store"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type presenceReadResponse struct {
	UserID   string           `json:"user_id"`
	Presence *presence.Record `json:"presence"`
}

func (s *httpServer) presenceRead(ctx *fasthttp.RequestCtx) {
	userID, ok := ctx.UserValue("user_id").(string)
	if !ok || userID == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "missing user id")

		return
	}

	if cached, ok := s.readCache.Get(userID); ok {
		writeJSON(ctx, fasthttp.StatusOK, cached)

		return
	}

	lCtx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	rec, ok, err := s.readRecord(lCtx, userID)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, "store operation failed")

		return
	}

	resp := presenceReadResponse{UserID: userID}
	if ok {
		resp.Presence = &rec
	}

	s.readCache.SetDefault(userID, resp)

	writeJSON(ctx, fasthttp.StatusOK, resp)
}

// readRecord takes one snapshot of the configured base path and extracts the
// user's record from it.
func (s *httpServer) readRecord(ctx context.Context, userID string) (presence.Record, bool, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan store.Snapshot, 1)

	go s.gctx.Inst().Store.Subscribe(subCtx, s.gctx.Config().Presence.StorePath, ch)

	select {
	case <-ctx.Done():
		return presence.Record{}, false, ctx.Err()
	case snap := <-ch:
		return snap.Child(userID)
	}
}

func (s *httpServer) presenceHistory(ctx *fasthttp.RequestCtx) {
	userID, ok := ctx.UserValue("user_id").(string)
	if !ok || userID == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "missing user id")

		return
	}

	if s.gctx.Inst().Archive == nil {
		writeError(ctx, fasthttp.StatusNotFound, "history is not enabled")

		return
	}

	limit := int64(ctx.QueryArgs().GetUintOrZero("limit"))

	lCtx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	items, err := s.gctx.Inst().Archive.History(lCtx, userID, limit)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, "store operation failed")

		return
	}

	writeJSON(ctx, fasthttp.StatusOK, items)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)

		return
	}

	ctx.SetStatusCode(status)
	ctx.SetBody(b)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}
