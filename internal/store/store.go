package store

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pulsekit/presence/data/presence"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Instance is a keyed record store addressed by hierarchical paths. Records
// live at <base>/<leaf>; subscriptions observe the whole base path and deliver
// snapshots of its children.
type Instance interface {
	// Write overwrites the full record at path.
	Write(ctx context.Context, path string, rec presence.Record) error
	// Update applies a lifecycle-only partial update to the record at path.
	Update(ctx context.Context, path string, partial presence.Partial) error
	// OnDisconnect returns a registration handle for a future write executed
	// by the store when this client's connection is considered lost.
	OnDisconnect(path string) DisconnectHook
	// Subscribe delivers value snapshots of path's children on ch until ctx
	// is done. The current value is delivered first.
	Subscribe(ctx context.Context, path string, ch chan<- Snapshot)
	// Ping reports whether the backing service is reachable.
	Ping(ctx context.Context) error
	// Close tears the client down, applying its own pending disconnect hooks.
	Close(ctx context.Context) error
}

type DisconnectHook interface {
	Write(ctx context.Context, rec presence.Record) error
	Cancel(ctx context.Context) error
}

// Snapshot is one emission of a base path's value: child leaf -> raw record.
type Snapshot map[string]jsoniter.RawMessage

// Child decodes the record stored under leaf. The second return is false when
// the leaf is absent from the snapshot.
func (s Snapshot) Child(leaf string) (presence.Record, bool, error) {
	raw, ok := s[leaf]
	if !ok {
		return presence.Record{}, false, nil
	}

	var rec presence.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return presence.Record{}, true, err
	}

	return rec, true, nil
}

var ErrInvalidPath = fmt.Errorf("store: invalid path")

// SplitPath separates a record path into its base path and leaf key.
// "status/app/u123" -> ("status/app", "u123").
func SplitPath(path string) (string, string, error) {
	path = strings.Trim(path, "/")

	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 {
		return "", "", ErrInvalidPath
	}

	return path[:i], path[i+1:], nil
}

// JoinPath composes a record path from a base path and a leaf key.
func JoinPath(base, leaf string) string {
	return strings.Trim(base, "/") + "/" + leaf
}
