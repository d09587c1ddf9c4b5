// Package eventbridge accepts commands pushed over a Redis pub/sub channel
// and routes them to the presence services. Frames are "name:json".
package eventbridge

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pulsekit/presence/internal/global"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func New(gctx global.Context, rc redis.UniversalClient) <-chan struct{} {
	done := make(chan struct{})

	channel := gctx.Config().Redis.KeyPrefix + ":bridge"

	go func() {
		defer close(done)

		sub := rc.Subscribe(gctx, channel)
		defer func() {
			_ = sub.Close()
		}()

		msgs := sub.Channel()

		for {
			select {
			case <-gctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				go func(payload string) {
					sp := strings.SplitN(payload, ":", 2)
					if len(sp) != 2 {
						zap.S().Errorw("invalid bridge message",
							"reason", "bad length",
							"msg", payload,
						)

						return
					}

					if err := handle(gctx, sp[0], []byte(sp[1])); err != nil {
						zap.S().Errorw("bridge command failed",
							"error", err,
							"name", sp[0],
						)
					}
				}(msg.Payload)
			}
		}
	}()

	return done
}

func handle(gctx global.Context, name string, body []byte) error {
	switch name {
	case "lifecycle":
		return handleLifecycle(gctx, body)
	case "identity":
		return handleIdentity(gctx, body)
	}

	return nil
}
