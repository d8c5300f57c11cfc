// Package remotestore defines the path-addressed realtime store shared by
// camera and monitor devices, together with an in-process implementation.
//
// The store is a tree of nodes. Each node holds one flat record (a Value) and
// may have child nodes, addressed with slash separated paths such as
// "pairings/AB12CD34/alerts/<id>". Reading a node returns only its own record;
// children are listed or subscribed to separately. Deleting a node removes
// its whole subtree.
package remotestore

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
)

// Value is the record stored at a node.
type Value = map[string]any

// Child is one direct child of a node.
type Child struct {
	Key   string
	Value Value
}

// Snapshot is the ordered set of direct children of Path at one moment.
type Snapshot struct {
	Path     string
	Children []Child
}

// Store is the remote store contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Read returns the record at path, or an error matching ErrNotFound.
	Read(ctx context.Context, path string) (Value, error)
	// Write replaces the record at path.
	Write(ctx context.Context, path string, v Value) error
	// Update merges fields into the record at path, creating it if needed.
	Update(ctx context.Context, path string, fields Value) error
	// Delete removes path and everything below it. Deleting a missing node
	// is not an error.
	Delete(ctx context.Context, path string) error
	// Append stores v as a new child of path under a store-assigned,
	// time-ordered key and returns that key.
	Append(ctx context.Context, path string, v Value) (string, error)
	// List returns the direct children of path ordered by orderBy.
	List(ctx context.Context, path, orderBy string) ([]Child, error)
	// Subscribe streams snapshots of the direct children of path ordered by
	// orderBy. The first snapshot is sent immediately.
	Subscribe(ctx context.Context, path, orderBy string) (Subscription, error)
	// Close releases the store connection.
	Close() error
}

// Subscription is a live view of a node's children. After a value arrives
// on Errors the subscription delivers nothing further and should be closed.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Errors() <-chan error
	Close() error
}

// Observer receives per-operation statistics.
// *metrics.StoreMetrics satisfies it.
type Observer interface {
	RecordOperation(backend, operation string, start time.Time, err error)
	SetConnected(backend string, connected bool)
}

// Operation names used for metrics and memory store fault injection.
type Op string

const (
	OpRead      Op = "read"
	OpWrite     Op = "write"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpAppend    Op = "append"
	OpList      Op = "list"
	OpSubscribe Op = "subscribe"
)

var (
	ErrNotFound    = errors.NewStd("remotestore: node not found")
	ErrUnavailable = errors.NewStd("remotestore: store unavailable")
	ErrClosed      = errors.NewStd("remotestore: store closed")
	ErrInvalidPath = errors.NewStd("remotestore: invalid path")
)

// NotFound returns a not-found error for path that matches ErrNotFound.
func NotFound(path string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrNotFound, path)).
		Category(errors.CategoryNotFound).
		Context("path", path).
		Build()
}

// Unavailable wraps cause into a network error matching ErrUnavailable.
func Unavailable(op Op, path string, cause error) error {
	err := fmt.Errorf("%w: %s %s", ErrUnavailable, op, path)
	if cause != nil {
		err = fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, path, cause)
	}
	return errors.New(err).
		Category(errors.CategoryNetwork).
		Context("operation", string(op)).
		Context("path", path).
		Build()
}

// Failed wraps a store-side failure that is neither not-found nor a
// connectivity problem.
func Failed(op Op, path string, cause error) error {
	return errors.New(fmt.Errorf("remotestore: %s %s: %w", op, path, cause)).
		Category(errors.CategoryRemoteStore).
		Context("operation", string(op)).
		Context("path", path).
		Build()
}

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
