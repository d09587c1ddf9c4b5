package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bugsnag/panicwrap"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/internal/api/eventbridge"
	"github.com/pulsekit/presence/internal/api/rest"
	"github.com/pulsekit/presence/internal/configure"
	"github.com/pulsekit/presence/internal/global"
	"github.com/pulsekit/presence/internal/health"
	"github.com/pulsekit/presence/internal/monitoring"
	"github.com/pulsekit/presence/internal/pprof"
	"github.com/pulsekit/presence/internal/store/memstore"
	"github.com/pulsekit/presence/internal/store/redisstore"
	"github.com/pulsekit/presence/internal/svc/archive"
	"github.com/pulsekit/presence/internal/svc/identity"
	"github.com/pulsekit/presence/internal/svc/lifecycle"
	"github.com/pulsekit/presence/internal/svc/limiter"
	"github.com/pulsekit/presence/internal/svc/prometheus"
	"github.com/pulsekit/presence/internal/svc/reader"
	"github.com/pulsekit/presence/internal/svc/reporter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	Version = "development"
	Unix    = ""
	Time    = "unknown"
	User    = "unknown"
)

func init() {
	debug.SetGCPercent(2000)
	if i, err := strconv.Atoi(Unix); err == nil {
		Time = time.Unix(int64(i), 0).Format(time.RFC3339)
	}
}

func main() {
	config := configure.New()

	exitStatus, err := panicwrap.BasicWrap(func(s string) {
		zap.S().Errorw("panic detected",
			"panic", s,
		)
	})
	if err != nil {
		zap.S().Errorw("failed to setup panic handler",
			"error", err,
		)
		os.Exit(2)
	}

	if exitStatus >= 0 {
		os.Exit(exitStatus)
	}

	if !config.NoHeader {
		zap.S().Info("Pulsekit Presence")
		zap.S().Infof("Version: %s", Version)
		zap.S().Infof("build.Time: %s", Time)
		zap.S().Infof("build.User: %s", User)
	}

	zap.S().Debugf("MaxProcs: %d", runtime.GOMAXPROCS(0))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))

	var rc redis.UniversalClient

	if len(config.Redis.Addresses) > 0 {
		rc = redisstore.NewClient(redisstore.Options{
			Username:   config.Redis.Username,
			Password:   config.Redis.Password,
			Database:   config.Redis.Database,
			Addresses:  config.Redis.Addresses,
			Sentinel:   config.Redis.Sentinel,
			MasterName: config.Redis.MasterName,
		})
	}

	{
		gCtx.Inst().Identity = identity.New(identity.Options{
			JWTSecret: config.Credentials.JWTSecret,
		})

		gCtx.Inst().Lifecycle = lifecycle.New()

		gCtx.Inst().Prometheus = prometheus.New(prometheus.Options{
			Labels: config.Monitoring.Labels.ToPrometheus(),
		})
	}

	var nc *nats.Conn

	{
		// Set up the event transport
		switch config.Events.Mode {
		case configure.EventsModeNats:
			nc, err = nats.Connect(config.Events.NATS.URI)
			if err != nil {
				zap.S().Fatalw("failed to connect to nats",
					"error", err,
				)
			}

			gCtx.Inst().Events = events.NewNatsPublisher(nc)
		default:
			if rc != nil {
				gCtx.Inst().Events = events.NewRedisPublisher(gCtx, rc)
			}
		}
	}

	{
		// Set up the keyed store
		if rc != nil {
			ctx, cancel := global.WithTimeout(gCtx, time.Second*15)
			gCtx.Inst().Store, err = redisstore.New(ctx, redisstore.Options{
				Client:     rc,
				KeyPrefix:  config.Redis.KeyPrefix,
				SessionTTL: time.Duration(config.Presence.SessionTTLSeconds) * time.Second,
				Events:     gCtx.Inst().Events,
				Metrics:    gCtx.Inst().Prometheus,
			})
			cancel()

			if err != nil {
				zap.S().Fatalw("failed to connect to redis",
					"error", err,
				)
			}
		} else {
			zap.S().Warn("no redis addresses configured, using in-memory store")

			gCtx.Inst().Store = memstore.New(memstore.Options{
				Events:  gCtx.Inst().Events,
				Metrics: gCtx.Inst().Prometheus,
			})
		}
	}

	{
		if config.Mongo.URI != "" {
			ctx, cancel := global.WithTimeout(gCtx, time.Second*15)
			gCtx.Inst().Archive, err = archive.New(ctx, archive.Options{
				URI:        config.Mongo.URI,
				DB:         config.Mongo.DB,
				Collection: config.Mongo.Collection,
				Direct:     config.Mongo.Direct,
			})
			cancel()

			if err != nil {
				zap.S().Fatalw("failed to connect to mongo",
					"error", err,
				)
			}

			if nc != nil || rc != nil {
				go archive.Follow(gCtx, gCtx.Inst().Archive, dispatchFrames(gCtx, rc, nc))
			}
		}
	}

	{
		if rc != nil {
			gCtx.Inst().Limiter, err = limiter.New(gCtx, rc, config.Redis.KeyPrefix)
			if err != nil {
				zap.S().Fatalw("failed to load limiter script",
					"error", err,
				)
			}
		}
	}

	{
		gCtx.Inst().Reporter = reporter.New(reporter.Options{
			Store:             gCtx.Inst().Store,
			Identity:          gCtx.Inst().Identity,
			Lifecycle:         gCtx.Inst().Lifecycle,
			Events:            gCtx.Inst().Events,
			Metrics:           gCtx.Inst().Prometheus,
			StorePath:         config.Presence.StorePath,
			SetLifecycleState: config.Presence.SetLifecycleState,
			AutoDispose:       config.Presence.AutoDispose,
		})

		gCtx.Inst().Reporter.Initialize(gCtx)

		gCtx.Inst().Reader = reader.New(reader.Options{
			Store:   gCtx.Inst().Store,
			Metrics: gCtx.Inst().Prometheus,
		})
	}

	wg := sync.WaitGroup{}

	if config.Health.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-health.New(gCtx)
		}()
	}

	if config.Monitoring.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-monitoring.New(gCtx)
		}()
	}

	if config.PProf.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-pprof.New(gCtx)
		}()
	}

	if config.Bridge.Enabled && rc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-eventbridge.New(gCtx, rc)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := rest.New(gCtx); err != nil {
			zap.S().Fatalw("rest server failed",
				"error", err,
			)
		}
	}()

	zap.S().Info("running")

	done := make(chan struct{})

	go func() {
		<-sig
		cancel()

		go func() {
			select {
			case <-time.After(time.Minute):
			case <-sig:
			}
			zap.S().Fatal("force shutdown")
		}()

		zap.S().Info("shutting down")

		gCtx.Inst().Reporter.Dispose()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*15)
		defer shutdownCancel()

		var errs error

		if gCtx.Inst().Store != nil {
			errs = multierror.Append(errs, gCtx.Inst().Store.Close(shutdownCtx)).ErrorOrNil()
		}

		if gCtx.Inst().Archive != nil {
			errs = multierror.Append(errs, gCtx.Inst().Archive.Close(shutdownCtx)).ErrorOrNil()
		}

		if nc != nil {
			nc.Close()
		}

		if errs != nil {
			zap.S().Warnw("shutdown finished with errors",
				"error", errs,
			)
		}

		wg.Wait()

		close(done)
	}()

	<-done

	zap.S().Info("shutdown")
	os.Exit(0)
}

// dispatchFrames adapts the configured event transport into the raw frame
// stream consumed by the archive.
func dispatchFrames(gCtx global.Context, rc redis.UniversalClient, nc *nats.Conn) <-chan []byte {
	frames := make(chan []byte, 256)

	if nc != nil {
		_, err := nc.Subscribe(events.OpcodeDispatch.PublishSubject(), func(msg *nats.Msg) {
			select {
			case frames <- msg.Data:
			default:
			}
		})
		if err != nil {
			zap.S().Fatalw("failed to subscribe to dispatch subject",
				"error", err,
			)
		}

		return frames
	}

	go func() {
		sub := rc.Subscribe(gCtx, events.OpcodeDispatch.PublishKey())
		defer func() {
			_ = sub.Close()
		}()

		msgs := sub.Channel()

		for {
			select {
			case <-gCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				select {
				case frames <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	return frames
}
