package presence

import "time"

// Record is the wire shape persisted at <path>/<userID>. Writes overwrite the
// full record; lifecycle-only updates touch AppLifecycle and nothing else.
type Record struct {
	IsOnline     bool      `json:"isOnline" bson:"is_online"`
	LastSeen     int64     `json:"lastSeen" bson:"last_seen"`
	AppLifecycle Lifecycle `json:"appLifeCycle" bson:"app_lifecycle"`
}

func NewRecord(online bool, at time.Time, lc Lifecycle) Record {
	return Record{
		IsOnline:     online,
		LastSeen:     at.UnixMilli(),
		AppLifecycle: lc,
	}
}

// Lifecycle is the coarse host-application state recorded with the presence.
type Lifecycle string

const (
	LifecycleInit     Lifecycle = "init"
	LifecycleInactive Lifecycle = "inactive"
	LifecyclePaused   Lifecycle = "paused"
	LifecycleResumed  Lifecycle = "resumed"
	LifecycleDetached Lifecycle = "detached"
	LifecycleError    Lifecycle = "error"
)

func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleInit, LifecycleInactive, LifecyclePaused, LifecycleResumed, LifecycleDetached, LifecycleError:
		return true
	}

	return false
}

// Partial is the lifecycle-only update applied by Update calls.
type Partial struct {
	AppLifecycle Lifecycle `json:"appLifeCycle" bson:"app_lifecycle"`
}
