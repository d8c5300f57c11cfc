// Package mqttstore implements remotestore.Store on an MQTT broker.
//
// Every node is a retained JSON message on <prefix>/<path>. Publishing an
// empty retained message deletes the node. Reads and listings subscribe to
// the node's topic (or its children) and collect the retained messages the
// broker replays; subscriptions then keep receiving live publishes.
package mqttstore

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

const (
	backend = "mqtt"
	qos     = 1

	defaultReadTimeout    = 2 * time.Second
	defaultSettleDelay    = 250 * time.Millisecond
	defaultConnectTimeout = 30 * time.Second
	operationTimeout      = 10 * time.Second
	maxReconnectInterval  = time.Minute
	disconnectQuiesceMs   = 250
)

var errTimeout = errors.NewStd("mqtt operation timed out")

// Config configures the broker connection and topic layout.
type Config struct {
	Broker      string
	ClientID    string // random when empty
	Username    string
	Password    string
	TopicPrefix string

	// ReadTimeout bounds how long Read waits for a retained message before
	// reporting the node as missing.
	ReadTimeout time.Duration

	// SettleDelay is the quiet period after a wildcard subscription after
	// which the replayed retained messages are treated as complete.
	SettleDelay time.Duration

	Logger   logger.Logger
	Observer remotestore.Observer
	Now      func() time.Time
}

// client is the part of mqtt.Client the store uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// route is one broker subscription shared by every reader of the same
// topic filter. state mirrors the retained messages seen on the filter.
type route struct {
	filter    string
	path      string
	exact     bool
	refs      int
	ready     chan struct{}
	isReady   bool
	err       error
	state     map[string][]byte
	listeners map[*remotestore.Feed]string // feed -> orderBy
}

// Store is an MQTT-backed remotestore.Store.
type Store struct {
	client      client
	prefix      string
	readTimeout time.Duration
	settle      time.Duration
	log         logger.Logger
	observer    remotestore.Observer
	now         func() time.Time

	// subMu orders broker subscribe and unsubscribe calls so a filter is
	// never unsubscribed after it has been subscribed again.
	subMu  sync.Mutex
	mu     sync.Mutex
	routes map[string]*route
	closed bool
	wg     sync.WaitGroup
}

// Connect dials the broker and returns a ready store. The paho client
// reconnects on its own after a connection loss; live subscriptions fail
// with an unavailable error when that happens and must be re-established by
// the caller.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := resolveBroker(ctx, cfg.Broker); err != nil {
		return nil, remotestore.Unavailable("connect", cfg.Broker, err)
	}

	s := newStore(nil, cfg)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "pairwatch-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) { s.connected() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { s.connectionLost(err) })

	c := mqtt.NewClient(opts)
	s.client = c
	if err := waitToken(ctx, c.Connect(), defaultConnectTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, remotestore.Unavailable("connect", cfg.Broker, err)
	}
	return s, nil
}

func newStore(c client, cfg Config) *Store {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("store.mqtt")
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = defaultSettleDelay
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		client:      c,
		prefix:      strings.Trim(cfg.TopicPrefix, "/"),
		readTimeout: readTimeout,
		settle:      settle,
		log:         log,
		observer:    cfg.Observer,
		now:         now,
		routes:      make(map[string]*route),
	}
}

// resolveBroker fails fast on an unresolvable broker host instead of
// waiting for the connect timeout.
func resolveBroker(ctx context.Context, broker string) error {
	u, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	host := u.Hostname()
	if host == "" || net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return fmt.Errorf("failed to resolve hostname %s: %w", host, err)
	}
	return nil
}

func (s *Store) connected() {
	s.log.Info("connected to mqtt broker")
	if s.observer != nil {
		s.observer.SetConnected(backend, true)
	}
}

// connectionLost drops every route. The broker forgets subscriptions of a
// clean session, so live feeds are failed and pending readers released.
func (s *Store) connectionLost(cause error) {
	s.log.Warn("connection to mqtt broker lost", logger.Error(cause))
	if s.observer != nil {
		s.observer.SetConnected(backend, false)
	}
	s.dropRoutes(func(r *route) error {
		return remotestore.Unavailable(remotestore.OpSubscribe, r.path, cause)
	})
}

func (s *Store) dropRoutes(reason func(r *route) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.routes {
		err := reason(r)
		s.finishLocked(r, err)
		for feed := range r.listeners {
			feed.Fail(err)
		}
	}
	s.routes = make(map[string]*route)
}

func (s *Store) topic(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *Store) pathOf(topic string) (string, bool) {
	if s.prefix == "" {
		return topic, true
	}
	return strings.CutPrefix(topic, s.prefix+"/")
}

func (s *Store) observe(op remotestore.Op, start time.Time, err error) {
	if s.observer != nil {
		s.observer.RecordOperation(backend, string(op), start, err)
	}
}

func (s *Store) begin(ctx context.Context, op remotestore.Op, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", remotestore.ErrClosed
	}
	if err := remotestore.ValidatePath(path); err != nil {
		return "", err
	}
	path = remotestore.Join(path)
	if !s.client.IsConnectionOpen() {
		return "", remotestore.Unavailable(op, path, nil)
	}
	return path, nil
}

// acquire joins or creates the route for filter and waits until its
// retained state is complete.
func (s *Store) acquire(ctx context.Context, path, filter string, exact bool) (*route, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, remotestore.ErrClosed
	}
	r, ok := s.routes[filter]
	if ok {
		r.refs++
		s.mu.Unlock()
	} else {
		r = &route{
			filter:    filter,
			path:      path,
			exact:     exact,
			refs:      1,
			ready:     make(chan struct{}),
			state:     make(map[string][]byte),
			listeners: make(map[*remotestore.Feed]string),
		}
		s.routes[filter] = r
		s.wg.Go(func() { s.subscribe(r) })
		s.mu.Unlock()
	}

	select {
	case <-r.ready:
	case <-ctx.Done():
		s.release(r)
		return nil, ctx.Err()
	}
	s.mu.Lock()
	err := r.err
	s.mu.Unlock()
	if err != nil {
		s.release(r)
		return nil, err
	}
	return r, nil
}

func (s *Store) subscribe(r *route) {
	s.subMu.Lock()
	s.mu.Lock()
	current := s.routes[r.filter] == r
	s.mu.Unlock()
	if !current {
		s.subMu.Unlock()
		return
	}
	err := waitToken(context.Background(), s.client.Subscribe(r.filter, qos, s.handler(r)), operationTimeout)
	s.subMu.Unlock()

	if err != nil {
		s.mu.Lock()
		s.finishLocked(r, remotestore.Unavailable(remotestore.OpSubscribe, r.path, err))
		if s.routes[r.filter] == r {
			delete(s.routes, r.filter)
		}
		s.mu.Unlock()
		return
	}

	wait := s.settle
	if r.exact {
		wait = s.readTimeout
	}
	time.AfterFunc(wait, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.finishLocked(r, nil)
	})
}

// finishLocked marks r ready once and, on success, sends the first snapshot
// to its listeners.
func (s *Store) finishLocked(r *route, err error) {
	if r.isReady {
		return
	}
	r.isReady = true
	r.err = err
	close(r.ready)
	if err == nil {
		s.notifyLocked(r)
	}
}

func (s *Store) handler(r *route) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.routes[r.filter] != r {
			return
		}
		payload := m.Payload()
		if len(payload) == 0 {
			delete(r.state, m.Topic())
		} else {
			r.state[m.Topic()] = bytes.Clone(payload)
		}
		switch {
		case r.exact && !r.isReady && len(payload) > 0:
			s.finishLocked(r, nil)
		case r.isReady:
			s.notifyLocked(r)
		}
	}
}

func (s *Store) notifyLocked(r *route) {
	for feed, orderBy := range r.listeners {
		feed.Push(remotestore.Snapshot{Path: r.path, Children: s.childrenLocked(r, orderBy)})
	}
}

func (s *Store) childrenLocked(r *route, orderBy string) []remotestore.Child {
	children := make([]remotestore.Child, 0, len(r.state))
	for topic, payload := range r.state {
		path, ok := s.pathOf(topic)
		if !ok {
			continue
		}
		parent, key := remotestore.Parent(path)
		if parent != r.path {
			continue
		}
		v, err := decodePayload(payload)
		if err != nil {
			s.log.Warn("skipping undecodable node", logger.String("topic", topic), logger.Error(err))
			continue
		}
		children = append(children, remotestore.Child{Key: key, Value: v})
	}
	remotestore.SortChildren(children, orderBy)
	return children
}

func (s *Store) release(r *route) {
	s.mu.Lock()
	r.refs--
	if r.refs > 0 {
		s.mu.Unlock()
		return
	}
	current := s.routes[r.filter] == r
	if current {
		delete(s.routes, r.filter)
	}
	closed := s.closed
	s.mu.Unlock()
	if !current || closed {
		return
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if err := waitToken(context.Background(), s.client.Unsubscribe(r.filter), operationTimeout); err != nil {
		s.log.Debug("unsubscribe failed", logger.String("filter", r.filter), logger.Error(err))
	}
}

func (s *Store) publish(ctx context.Context, op remotestore.Op, path, topic string, payload []byte) error {
	err := waitToken(ctx, s.client.Publish(topic, qos, true, payload), operationTimeout)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return remotestore.Unavailable(op, path, err)
}

func (s *Store) Read(ctx context.Context, path string) (v remotestore.Value, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpRead, start, err) }(time.Now())
	if path, err = s.begin(ctx, remotestore.OpRead, path); err != nil {
		return nil, err
	}
	return s.read(ctx, path)
}

func (s *Store) read(ctx context.Context, path string) (remotestore.Value, error) {
	topic := s.topic(path)
	r, err := s.acquire(ctx, path, topic, true)
	if err != nil {
		return nil, err
	}
	defer s.release(r)

	s.mu.Lock()
	payload, ok := r.state[topic]
	s.mu.Unlock()
	if !ok {
		return nil, remotestore.NotFound(path)
	}
	return decodePayload(payload)
}

func (s *Store) Write(ctx context.Context, path string, v remotestore.Value) (err error) {
	defer func(start time.Time) { s.observe(remotestore.OpWrite, start, err) }(time.Now())
	if path, err = s.begin(ctx, remotestore.OpWrite, path); err != nil {
		return err
	}
	return s.write(ctx, remotestore.OpWrite, path, v)
}

func (s *Store) write(ctx context.Context, op remotestore.Op, path string, v remotestore.Value) error {
	payload, err := remotestore.MarshalValue(v, s.now())
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	return s.publish(ctx, op, path, s.topic(path), payload)
}

// Update reads, merges and republishes the node. MQTT offers no
// compare-and-set, so concurrent updates of one node may lose fields.
func (s *Store) Update(ctx context.Context, path string, fields remotestore.Value) (err error) {
	defer func(start time.Time) { s.observe(remotestore.OpUpdate, start, err) }(time.Now())
	if path, err = s.begin(ctx, remotestore.OpUpdate, path); err != nil {
		return err
	}
	merged, err := s.read(ctx, path)
	if err != nil {
		if !errors.Is(err, remotestore.ErrNotFound) {
			return err
		}
		merged = remotestore.Value{}
	}
	for k, val := range fields {
		merged[k] = val
	}
	return s.write(ctx, remotestore.OpUpdate, path, merged)
}

func (s *Store) Delete(ctx context.Context, path string) (err error) {
	defer func(start time.Time) { s.observe(remotestore.OpDelete, start, err) }(time.Now())
	if path, err = s.begin(ctx, remotestore.OpDelete, path); err != nil {
		return err
	}
	root := s.topic(path)
	r, err := s.acquire(ctx, path, root+"/#", false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	topics := make([]string, 0, len(r.state)+1)
	for topic := range r.state {
		topics = append(topics, topic)
	}
	s.mu.Unlock()
	s.release(r)

	if len(topics) == 0 {
		topics = append(topics, root)
	}
	for _, topic := range topics {
		if err := s.publish(ctx, remotestore.OpDelete, path, topic, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, path string, v remotestore.Value) (id string, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpAppend, start, err) }(time.Now())
	if path, err = s.begin(ctx, remotestore.OpAppend, path); err != nil {
		return "", err
	}
	key, err := uuid.NewV7()
	if err != nil {
		return "", remotestore.Failed(remotestore.OpAppend, path, err)
	}
	if err := s.write(ctx, remotestore.OpAppend, remotestore.Join(path, key.String()), v); err != nil {
		return "", err
	}
	return key.String(), nil
}

func (s *Store) List(ctx context.Context, path, orderBy string) (children []remotestore.Child, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpList, start, err) }(time.Now())
	if path, err = s.begin(ctx, remotestore.OpList, path); err != nil {
		return nil, err
	}
	r, err := s.acquire(ctx, path, s.topic(path)+"/+", false)
	if err != nil {
		return nil, err
	}
	defer s.release(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childrenLocked(r, orderBy), nil
}

func (s *Store) Subscribe(ctx context.Context, path, orderBy string) (sub remotestore.Subscription, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpSubscribe, start, err) }(time.Now())
	if path, err = s.begin(ctx, remotestore.OpSubscribe, path); err != nil {
		return nil, err
	}
	r, err := s.acquire(ctx, path, s.topic(path)+"/+", false)
	if err != nil {
		return nil, err
	}

	var feed *remotestore.Feed
	feed = remotestore.NewFeed(func() {
		s.mu.Lock()
		delete(r.listeners, feed)
		s.mu.Unlock()
		s.release(r)
	})

	s.mu.Lock()
	if s.routes[r.filter] != r {
		s.mu.Unlock()
		_ = feed.Close()
		return nil, remotestore.Unavailable(remotestore.OpSubscribe, path, nil)
	}
	r.listeners[feed] = orderBy
	feed.Push(remotestore.Snapshot{Path: path, Children: s.childrenLocked(r, orderBy)})
	s.mu.Unlock()
	return feed, nil
}

// Close fails live subscriptions and disconnects from the broker.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.dropRoutes(func(*route) error { return remotestore.ErrClosed })
	s.wg.Wait()
	s.client.Disconnect(disconnectQuiesceMs)
	if s.observer != nil {
		s.observer.SetConnected(backend, false)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errTimeout
	}
}

// decodePayload parses a retained node payload. Numbers decode as
// json.Number; the remotestore converters accept them.
func decodePayload(payload []byte) (remotestore.Value, error) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return nil, errors.New(fmt.Errorf("corrupt node payload: %w", err)).
			Category(errors.CategoryRemoteStore).
			Build()
	}
	fields := obj.Map()
	v := make(remotestore.Value, len(fields))
	for k, field := range fields {
		v[k] = field.Interface()
	}
	return v, nil
}
