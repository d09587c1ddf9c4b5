package archive

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/data/presence"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func decodeRecord(raw jsoniter.RawMessage) (presence.Record, error) {
	var rec presence.Record
	err := json.Unmarshal(raw, &rec)

	return rec, err
}

// Follow consumes raw dispatch frames from the event transport and records
// every transition. Frames without a record object carry nothing worth
// archiving and are skipped.
func Follow(ctx context.Context, inst Instance, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}

			var msg events.Message[jsoniter.RawMessage]
			if err := json.Unmarshal(frame, &msg); err != nil {
				zap.S().Warnw("archive, invalid dispatch frame",
					"error", err,
				)

				continue
			}

			if msg.Op != events.OpcodeDispatch {
				continue
			}

			payload, err := events.ConvertMessage[events.DispatchPayload](msg)
			if err != nil {
				zap.S().Warnw("archive, invalid dispatch payload",
					"error", err,
				)

				continue
			}

			if len(payload.Data.Object) == 0 {
				continue
			}

			rec, err := decodeRecord(payload.Data.Object)
			if err != nil {
				zap.S().Warnw("archive, invalid record object",
					"error", err,
				)

				continue
			}

			if err := inst.Record(ctx, payload.Data.UserID, rec); err != nil {
				zap.S().Errorw("archive, failed to record transition",
					"error", err,
					"user_id", payload.Data.UserID,
				)
			}
		}
	}
}
