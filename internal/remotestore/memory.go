package remotestore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryBackend = "memory"

// MemoryStore is an in-process Store. Besides serving single-process runs it
// carries fault injection hooks used by tests.
type MemoryStore struct {
	mu        sync.Mutex
	nodes     map[string]Value
	subs      map[*Feed]subscriptionTarget
	failNext  map[Op][]error
	available bool
	closed    bool
	now       func() time.Time
	observer  Observer
}

type subscriptionTarget struct {
	path    string
	orderBy string
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for server timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithMemoryObserver attaches an operation observer.
func WithMemoryObserver(o Observer) MemoryOption {
	return func(s *MemoryStore) { s.observer = o }
}

// NewMemoryStore creates an empty, available store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nodes:     make(map[string]Value),
		subs:      make(map[*Feed]subscriptionTarget),
		failNext:  make(map[Op][]error),
		available: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer != nil {
		s.observer.SetConnected(memoryBackend, true)
	}
	return s
}

// FailNext makes the next call of op fail with err. A nil err fails with an
// unavailable error. Calls queue up in order.
func (s *MemoryStore) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = append(s.failNext[op], err)
}

// BreakSubscriptions reports err on every live subscription and detaches
// them so they receive no further snapshots.
func (s *MemoryStore) BreakSubscriptions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakLocked(err)
}

func (s *MemoryStore) breakLocked(err error) {
	for feed := range s.subs {
		feed.Fail(err)
		delete(s.subs, feed)
	}
}

// SetAvailable simulates losing or regaining connectivity. Going offline
// breaks every live subscription.
func (s *MemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available == available {
		return
	}
	s.available = available
	if s.observer != nil {
		s.observer.SetConnected(memoryBackend, available)
	}
	if !available {
		s.breakLocked(Unavailable(OpSubscribe, "", nil))
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (s *MemoryStore) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// begin runs the shared pre-operation checks. It must be called with s.mu
// held.
func (s *MemoryStore) begin(ctx context.Context, op Op, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrClosed
	}
	if err := ValidatePath(path); err != nil {
		return err
	}
	if queued := s.failNext[op]; len(queued) > 0 {
		err := queued[0]
		s.failNext[op] = queued[1:]
		if err == nil {
			err = Unavailable(op, path, nil)
		}
		return err
	}
	if !s.available {
		return Unavailable(op, path, nil)
	}
	return nil
}

func (s *MemoryStore) observe(op Op, start time.Time, err error) {
	if s.observer != nil {
		s.observer.RecordOperation(memoryBackend, string(op), start, err)
	}
}

func (s *MemoryStore) Read(ctx context.Context, path string) (v Value, err error) {
	defer func(start time.Time) { s.observe(OpRead, start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.begin(ctx, OpRead, path); err != nil {
		return nil, err
	}
	node, ok := s.nodes[Join(path)]
	if !ok {
		return nil, NotFound(path)
	}
	return CopyValue(node), nil
}

func (s *MemoryStore) Write(ctx context.Context, path string, v Value) (err error) {
	defer func(start time.Time) { s.observe(OpWrite, start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.begin(ctx, OpWrite, path); err != nil {
		return err
	}
	path = Join(path)
	s.nodes[path] = s.resolve(v)
	s.notifyLocked(path)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, path string, fields Value) (err error) {
	defer func(start time.Time) { s.observe(OpUpdate, start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.begin(ctx, OpUpdate, path); err != nil {
		return err
	}
	path = Join(path)
	node := s.nodes[path]
	if node == nil {
		node = make(Value, len(fields))
	}
	maps.Copy(node, s.resolve(fields))
	s.nodes[path] = node
	s.notifyLocked(path)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) (err error) {
	defer func(start time.Time) { s.observe(OpDelete, start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.begin(ctx, OpDelete, path); err != nil {
		return err
	}
	path = Join(path)
	for p := range s.nodes {
		if IsWithin(p, path) {
			delete(s.nodes, p)
		}
	}
	s.notifyLocked(path)
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, path string, v Value) (id string, err error) {
	defer func(start time.Time) { s.observe(OpAppend, start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.begin(ctx, OpAppend, path); err != nil {
		return "", err
	}
	key, err := uuid.NewV7()
	if err != nil {
		return "", Failed(OpAppend, path, err)
	}
	id = key.String()
	child := Join(path, id)
	s.nodes[child] = s.resolve(v)
	s.notifyLocked(child)
	return id, nil
}

func (s *MemoryStore) List(ctx context.Context, path, orderBy string) (children []Child, err error) {
	defer func(start time.Time) { s.observe(OpList, start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.begin(ctx, OpList, path); err != nil {
		return nil, err
	}
	return s.childrenLocked(Join(path), orderBy), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path, orderBy string) (sub Subscription, err error) {
	defer func(start time.Time) { s.observe(OpSubscribe, start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.begin(ctx, OpSubscribe, path); err != nil {
		return nil, err
	}
	path = Join(path)
	var feed *Feed
	feed = NewFeed(func() {
		s.mu.Lock()
		delete(s.subs, feed)
		s.mu.Unlock()
	})
	s.subs[feed] = subscriptionTarget{path: path, orderBy: orderBy}
	feed.Push(Snapshot{Path: path, Children: s.childrenLocked(path, orderBy)})
	return feed, nil
}

// Close breaks every subscription and rejects further calls.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.breakLocked(ErrClosed)
	return nil
}

func (s *MemoryStore) resolve(v Value) Value {
	out := ResolveServerTimestamps(v, s.now())
	if out == nil {
		out = Value{}
	}
	return out
}

func (s *MemoryStore) childrenLocked(path, orderBy string) []Child {
	children := make([]Child, 0)
	for p, v := range s.nodes {
		if IsChildOf(p, path) {
			_, key := Parent(p)
			children = append(children, Child{Key: key, Value: CopyValue(v)})
		}
	}
	SortChildren(children, orderBy)
	return children
}

// notifyLocked pushes fresh snapshots to subscriptions whose child set may
// have changed because of a mutation at path.
func (s *MemoryStore) notifyLocked(path string) {
	targets := slices.Collect(maps.Keys(s.subs))
	for _, feed := range targets {
		t := s.subs[feed]
		if IsWithin(path, t.path) || IsWithin(t.path, path) {
			feed.Push(Snapshot{Path: t.path, Children: s.childrenLocked(t.path, t.orderBy)})
		}
	}
}
