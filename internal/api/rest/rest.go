package rest

import (
	"fmt"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/patrickmn/go-cache"
	"github.com/pulsekit/presence/internal/global"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type httpServer struct {
	gctx     global.Context
	listener net.Listener
	router   *router.Router

	// readCache keeps hot presence reads off the store for a moment.
	readCache *cache.Cache
}

func New(gctx global.Context) error {
	var err error

	port := gctx.Config().Http.Port
	if port == 0 {
		port = 80
	}

	s := httpServer{
		gctx:      gctx,
		readCache: cache.New(time.Second*2, time.Second*10),
	}

	s.listener, err = net.Listen("tcp", fmt.Sprintf("%s:%d", gctx.Config().Http.Addr, port))
	if err != nil {
		return err
	}

	s.router = router.New()

	s.router.GET("/v1/presence/{user_id}", s.presenceRead)
	s.router.GET("/v1/presence/{user_id}/history", s.presenceHistory)
	s.router.POST("/v1/presence/{user_id}/lifecycle", s.lifecycleWrite)

	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			defer func() {
				if err := recover(); err != nil {
					zap.S().Errorw("panic in rest request handler",
						"panic", err,
						"method", string(ctx.Method()),
						"path", string(ctx.Path()),
					)

					ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				} else {
					mills := time.Since(start) / time.Millisecond
					status := ctx.Response.StatusCode()

					logFn := zap.S().Debugw
					if mills >= 500 {
						logFn = zap.S().Infow
					}
					if status >= 500 {
						logFn = zap.S().Errorw
					}

					logFn("rest request",
						"status", status,
						"duration", int(mills),
						"method", string(ctx.Method()),
						"path", string(ctx.Path()),
						"ip", ctx.RemoteIP().String(),
					)
				}
			}()

			ctx.Response.Header.Set("Content-Type", "application/json")

			s.router.Handler(ctx)
		},
		ReadTimeout:       time.Second * 30,
		IdleTimeout:       time.Second * 10,
		CloseOnShutdown:   true,
		DisableKeepalive:  false,
		StreamRequestBody: false,
	}

	go func() {
		<-gctx.Done()

		_ = srv.Shutdown()
	}()

	return srv.Serve(s.listener)
}
