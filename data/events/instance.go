package events

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/pulsekit/presence/data/presence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Instance interface {
	Publish(ctx context.Context, msg Message[jsoniter.RawMessage]) error
	// Dispatch publishes a presence change for userID, carrying the record as
	// it stands after the change.
	Dispatch(ctx context.Context, t EventType, userID string, rec *presence.Record) error
}

const flushInterval = 50 * time.Millisecond

type redisPublisher struct {
	ctx context.Context
	rc  redis.UniversalClient

	mx    sync.Mutex
	queue []Message[jsoniter.RawMessage]
}

// NewRedisPublisher batches outgoing messages and flushes them on a short
// ticker through a single pipeline.
func NewRedisPublisher(ctx context.Context, rc redis.UniversalClient) Instance {
	inst := &redisPublisher{
		ctx: ctx,
		rc:  rc,
	}

	ticker := time.NewTicker(flushInterval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inst.flush()
			}
		}
	}()

	return inst
}

func (inst *redisPublisher) flush() {
	inst.mx.Lock()
	batch := inst.queue
	inst.queue = nil
	inst.mx.Unlock()

	if len(batch) == 0 {
		return
	}

	p := inst.rc.Pipeline()

	for _, m := range batch {
		j, err := json.Marshal(m)
		if err != nil {
			continue
		}

		p.Publish(inst.ctx, m.Op.PublishKey(), j)
	}

	if _, err := p.Exec(inst.ctx); err != nil {
		zap.S().Warnw("failed to publish events",
			"error", err.Error(),
		)
	}
}

func (inst *redisPublisher) Publish(ctx context.Context, msg Message[jsoniter.RawMessage]) error {
	inst.mx.Lock()
	inst.queue = append(inst.queue, msg)
	inst.mx.Unlock()

	return nil
}

func (inst *redisPublisher) Dispatch(ctx context.Context, t EventType, userID string, rec *presence.Record) error {
	return dispatch(ctx, inst, t, userID, rec)
}

type natsPublisher struct {
	nc *nats.Conn
}

// NewNatsPublisher publishes messages directly to a NATS subject per opcode.
func NewNatsPublisher(nc *nats.Conn) Instance {
	return &natsPublisher{nc: nc}
}

func (inst *natsPublisher) Publish(ctx context.Context, msg Message[jsoniter.RawMessage]) error {
	j, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return inst.nc.Publish(msg.Op.PublishSubject(), j)
}

func (inst *natsPublisher) Dispatch(ctx context.Context, t EventType, userID string, rec *presence.Record) error {
	return dispatch(ctx, inst, t, userID, rec)
}

func dispatch(ctx context.Context, inst Instance, t EventType, userID string, rec *presence.Record) error {
	var object jsoniter.RawMessage

	if rec != nil {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		object = raw
	}

	msg := NewMessage(OpcodeDispatch, DispatchPayload{
		Type:   t,
		UserID: userID,
		Object: object,
	})

	return inst.Publish(ctx, msg.ToRaw())
}
