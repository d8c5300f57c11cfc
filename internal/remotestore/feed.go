package remotestore

import "sync"

// Feed is a Subscription implementation shared by the store adapters.
// Snapshot delivery keeps only the latest undelivered snapshot, so a slow
// consumer never blocks the store and always sees the newest child set.
type Feed struct {
	mu      sync.Mutex
	snaps   chan Snapshot
	errs    chan error
	closed  bool
	onClose func()
}

// NewFeed creates a Feed. onClose, when non-nil, runs once on the first
// Close call.
func NewFeed(onClose func()) *Feed {
	return &Feed{
		snaps:   make(chan Snapshot, 1),
		errs:    make(chan error, 1),
		onClose: onClose,
	}
}

// Push publishes snap, replacing any snapshot not yet received.
func (f *Feed) Push(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case <-f.snaps:
	default:
	}
	f.snaps <- snap
}

// Fail reports err to the consumer. Only the first error is kept.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.errs <- err:
	default:
	}
}

// Closed reports whether Close has been called.
func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Feed) Snapshots() <-chan Snapshot { return f.snaps }
func (f *Feed) Errors() <-chan error       { return f.errs }

// Close closes both channels. It is safe to call more than once.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.snaps)
	close(f.errs)
	onClose := f.onClose
	f.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}
