// Package store defines the snapshot persistence interface and the models
// shared by its backends.
package store

import (
	"context"
	"errors"
)

// Errors returned.
var (
	ErrNoSnapshot = errors.New("store: no snapshot saved")
	ErrBadDBType  = errors.New("store: unknown database type")
)

// DB persists aggregation snapshots so a restarted service can resume from
// the last known state instead of refetching the full history window.
type DB interface {
	// SaveSnapshot stores s as the latest snapshot, keeping prior ones as
	// history.
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	// LoadSnapshot returns the latest snapshot or ErrNoSnapshot.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	// Close releases the connection.
	Close() error
}
