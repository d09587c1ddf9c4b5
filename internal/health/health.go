package health

import (
	"context"
	"time"

	"github.com/pulsekit/presence/internal/global"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func New(gCtx global.Context) <-chan struct{} {
	done := make(chan struct{})

	srv := fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if err := recover(); err != nil {
					zap.S().Errorw("panic in health",
						"panic", err,
					)
				}
			}()

			var (
				storeDown   bool
				archiveDown bool
			)

			if gCtx.Inst().Store != nil {
				lCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
				if err := gCtx.Inst().Store.Ping(lCtx); err != nil {
					zap.S().Warnw("store is not responding",
						"error", err,
					)
					storeDown = true
				}
				cancel()
			}

			if gCtx.Inst().Archive != nil {
				lCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
				if err := gCtx.Inst().Archive.Ping(lCtx); err != nil {
					zap.S().Warnw("archive is not responding",
						"error", err,
					)
					archiveDown = true
				}
				cancel()
			}

			if storeDown || archiveDown {
				ctx.SetStatusCode(500)
			}
		},
	}

	go func() {
		defer close(done)
		zap.S().Infow("Health enabled",
			"bind", gCtx.Config().Health.Bind,
		)

		if err := srv.ListenAndServe(gCtx.Config().Health.Bind); err != nil {
			zap.S().Fatalw("failed to start health bind",
				"error", err,
			)
		}
	}()

	go func() {
		<-gCtx.Done()

		_ = srv.Shutdown()
	}()

	return done
}
