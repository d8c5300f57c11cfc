// Package monitoring runs the monitor side of a pairing: a self-healing
// subscription to the pairing's alerts, a periodic liveness heartbeat and a
// durable record that lets the session be resumed after a restart.
package monitoring

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/notification"
	"github.com/tphakala/pairwatch/internal/observability/metrics"
	"github.com/tphakala/pairwatch/internal/pairing"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

const (
	// DefaultReconnectDelay is the wait before resubscribing after the alert
	// subscription fails.
	DefaultReconnectDelay = 10 * time.Second
	// DefaultHeartbeatInterval is the period of the lastActive write.
	DefaultHeartbeatInterval = 2 * time.Minute

	heartbeatTimeout = 30 * time.Second
	notifyTimeout    = 30 * time.Second
)

var (
	// ErrNotActive is returned by operations that need a running session.
	ErrNotActive = errors.NewStd("monitoring session is not active")
	// ErrNoPersistedSession means there is no durable session to resume.
	ErrNoPersistedSession = errors.NewStd("no persisted monitoring session")
	// ErrSuperseded means a concurrent Start or Stop replaced the session
	// while it was starting.
	ErrSuperseded = errors.NewStd("monitoring session superseded")
)

// AlertEvent is one alert observed by the session.
type AlertEvent struct {
	Alert       pairing.Alert
	PairingCode string
	Matched     bool // label is on the watch list
	Historical  bool // raised before the session started
}

// AlertHandler receives every alert the session observes for the first time.
type AlertHandler func(AlertEvent)

// Deps are the session's collaborators. Local, Notifier, the callbacks,
// Metrics and Clock are optional.
type Deps struct {
	Store         remotestore.Store
	Pairings      *pairing.Service
	Local         localstore.Store
	Notifier      notification.Notifier
	OnAlert       AlertHandler
	OnStateChange func(State)
	Logger        logger.Logger
	Metrics       *metrics.SessionMetrics
	Clock         Clock
}

// Options tunes the session's timers. MaxReconnectDelay enables capped
// exponential backoff when larger than ReconnectDelay; otherwise every
// attempt waits ReconnectDelay.
type Options struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HeartbeatInterval time.Duration
	Role              pairing.Role
	DeviceID          string
}

// Session keeps one pairing's alert subscription alive. All methods are safe
// for concurrent use, and Stop may be called from inside the callbacks. The
// notifier must not call Stop.
type Session struct {
	store    remotestore.Store
	pairings *pairing.Service
	local    localstore.Store
	notifier notification.Notifier
	onAlert  AlertHandler
	onState  func(State)
	log      logger.Logger
	metrics  *metrics.SessionMetrics
	clock    Clock
	opts     Options

	// persistMu orders durable record writes so a stale Stop cannot clear
	// the record of the session that replaced it.
	persistMu sync.Mutex

	// dispatchMu is held from the generation check until the alert
	// callback and notifier return.
	dispatchMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	code       string
	objects    []string
	startedAt  time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	sub        remotestore.Subscription
	reconnect  Timer
	heartbeat  Timer
	attempts   int
	seen       map[string]struct{}
	inAlert    bool // OnAlert is running
	wg         sync.WaitGroup
}

// NewSession creates an idle session.
func NewSession(deps Deps, opts Options) (*Session, error) {
	if deps.Store == nil || deps.Pairings == nil {
		return nil, errors.New(errors.NewStd("monitoring session needs a store and a pairing service")).
			Component("monitoring").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Role == "" {
		opts.Role = pairing.RoleMonitor
	}
	if !opts.Role.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("unknown role %q", opts.Role))
	}

	log := deps.Logger
	if log == nil {
		log = logger.Global().Module("monitoring")
	}
	if opts.DeviceID != "" {
		log = log.With(logger.String("device_id", opts.DeviceID))
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Session{
		store:    deps.Store,
		pairings: deps.Pairings,
		local:    deps.Local,
		notifier: deps.Notifier,
		onAlert:  deps.OnAlert,
		onState:  deps.OnStateChange,
		log:      log,
		metrics:  deps.Metrics,
		clock:    clock,
		opts:     opts,
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PairingCode returns the monitored code, or "" when idle.
func (s *Session) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// WatchList returns a copy of the watched labels.
func (s *Session) WatchList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.objects)
}

// Start monitors code, replacing any running session. It returns once the
// subscription is live, or with the validation or subscribe error, in which
// case the session is left idle.
func (s *Session) Start(ctx context.Context, code string, objects []string) error {
	objects = pairing.NormalizeObjects(objects)
	startedAt := s.clock.Now()

	s.mu.Lock()
	wasRunning := s.state != StateIdle
	stale := s.teardownLocked()
	s.setStateLocked(StateStarting)
	gen := s.generation
	s.mu.Unlock()
	closeSub(stale)
	if wasRunning {
		s.clearRecord(gen)
	}
	s.emit(StateStarting)

	if _, err := s.pairings.Validate(ctx, code); err != nil {
		s.abortStart(gen, false)
		s.log.Warn("pairing validation failed", logger.String("code", code), logger.Error(err))
		return fmt.Errorf("validate pairing %s: %w", code, err)
	}
	if !s.current(gen) {
		return ErrSuperseded
	}

	if err := s.persist(gen, func(local localstore.Store) error {
		return localstore.SaveActiveMonitoring(local, code, objects)
	}); err != nil {
		s.log.Warn("failed to persist monitoring session", logger.String("code", code), logger.Error(err))
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.store.Subscribe(sessCtx, remotestore.AlertsPath(code), pairing.AlertOrderField)
	if err != nil {
		cancel()
		s.abortStart(gen, true)
		return errors.New(fmt.Errorf("subscribe to alerts of %s: %w", code, err)).
			Component("monitoring").
			Category(errors.CategorySubscription).
			Context("code", code).
			Build()
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		cancel()
		closeSub(sub)
		return ErrSuperseded
	}
	s.code = code
	s.objects = objects
	s.startedAt = startedAt
	s.ctx, s.cancel = sessCtx, cancel
	s.seen = make(map[string]struct{})
	s.attempts = 0
	s.attachLocked(gen, sub)
	s.scheduleHeartbeatLocked(gen)
	s.setStateLocked(StateActive)
	s.mu.Unlock()

	s.log.Info("monitoring started",
		logger.String("code", code),
		logger.Strings("objects", objects))
	s.emit(StateActive)
	return nil
}

// abortStart returns a failed start to idle. dropRecord clears the
// durable record written before the failure.
func (s *Session) abortStart(gen uint64, dropRecord bool) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
	if dropRecord {
		s.clearRecord(gen)
	}
	s.emit(StateIdle)
}

// Stop ends the session: the subscription is closed, pending timers are
// cancelled and the durable record is cleared. No callback starts after Stop
// returns. Stopping an idle session only clears the durable record.
func (s *Session) Stop() {
	s.mu.Lock()
	wasIdle := s.state == StateIdle
	code := s.code
	stale := s.teardownLocked()
	s.setStateLocked(StateIdle)
	gen := s.generation
	reentrant := s.inAlert
	s.mu.Unlock()

	closeSub(stale)
	s.awaitDispatch(reentrant)
	s.clearRecord(gen)
	if wasIdle {
		return
	}
	s.log.Info("monitoring stopped", logger.String("code", code))
	s.emit(StateIdle)
}

// Detach releases the subscription and timers like Stop but keeps the
// durable record, so the next process can Resume the session. It is used on
// process shutdown.
func (s *Session) Detach() {
	s.mu.Lock()
	wasIdle := s.state == StateIdle
	code := s.code
	stale := s.teardownLocked()
	s.setStateLocked(StateIdle)
	reentrant := s.inAlert
	s.mu.Unlock()

	closeSub(stale)
	s.awaitDispatch(reentrant)
	if wasIdle {
		return
	}
	s.log.Info("monitoring detached", logger.String("code", code))
	s.emit(StateIdle)
}

// pairingGone ends generation gen after the pairing was deleted remotely.
// The durable record is cleared so the session is not resumed.
func (s *Session) pairingGone(gen uint64, code string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	stale := s.teardownLocked()
	s.setStateLocked(StateIdle)
	next := s.generation
	reentrant := s.inAlert
	s.mu.Unlock()

	closeSub(stale)
	s.pairings.Invalidate(code)
	s.awaitDispatch(reentrant)
	s.clearRecord(next)
	s.log.Warn("pairing no longer exists, monitoring stopped", logger.String("code", code))
	s.emit(StateIdle)
}

// awaitDispatch waits for an alert dispatch that passed its generation
// check before the teardown. A Stop issued by OnAlert itself must not wait.
func (s *Session) awaitDispatch(reentrant bool) {
	if reentrant {
		return
	}
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock() //nolint:staticcheck // empty critical section is a barrier
}

// Wait blocks until the subscription goroutines of stopped sessions have
// exited. It must not be called from a callback.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Resume restarts the session recorded in the local store.
func (s *Session) Resume(ctx context.Context) error {
	if s.local == nil {
		return ErrNoPersistedSession
	}
	rec, ok := localstore.LoadActiveMonitoring(s.local)
	if !ok {
		return ErrNoPersistedSession
	}
	return s.ResumeWith(ctx, rec.Code, rec.Objects)
}

// ResumeWith revalidates code and starts monitoring it. When the pairing no
// longer exists the stale durable record is cleared. A store that cannot be
// reached keeps the record so a later resume can retry.
func (s *Session) ResumeWith(ctx context.Context, code string, objects []string) error {
	err := s.Start(ctx, code, objects)
	if err == nil {
		return nil
	}
	if errors.Is(err, pairing.ErrPairingNotFound) {
		s.pairings.Invalidate(code)
		s.mu.Lock()
		gen := s.generation
		idle := s.state == StateIdle
		s.mu.Unlock()
		if idle {
			s.clearRecord(gen)
		}
		s.log.Info("cleared stale monitoring session", logger.String("code", code))
	}
	return err
}

// UpdateWatchList replaces the watched labels locally and remotely. The
// subscription is left running.
func (s *Session) UpdateWatchList(ctx context.Context, objects []string) error {
	objects = pairing.NormalizeObjects(objects)

	s.mu.Lock()
	if !s.state.running() {
		s.mu.Unlock()
		return errors.New(ErrNotActive).
			Component("monitoring").
			Category(errors.CategoryState).
			Build()
	}
	s.objects = objects
	code := s.code
	gen := s.generation
	s.mu.Unlock()

	if err := s.persist(gen, func(local localstore.Store) error {
		return localstore.SaveActiveMonitoring(local, code, objects)
	}); err != nil {
		s.log.Warn("failed to persist watch list", logger.String("code", code), logger.Error(err))
	}
	if err := s.pairings.UpdateSelectedObjects(ctx, code, objects); err != nil {
		return err
	}
	s.log.Info("watch list updated", logger.String("code", code), logger.Strings("objects", objects))
	return nil
}

// teardownLocked invalidates the running session and cancels its timers. The
// returned subscription must be closed after s.mu is released.
func (s *Session) teardownLocked() remotestore.Subscription {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.ctx = nil
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	sub := s.sub
	s.sub = nil
	s.code = ""
	s.objects = nil
	s.attempts = 0
	s.seen = nil
	return sub
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	s.metrics.SetState(state.String())
}

func (s *Session) emit(state State) {
	if s.onState != nil {
		s.onState(state)
	}
}

// persist runs fn against the local store unless gen is stale.
func (s *Session) persist(gen uint64, fn func(localstore.Store) error) error {
	if s.local == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if !s.current(gen) {
		return nil
	}
	return fn(s.local)
}

func (s *Session) clearRecord(gen uint64) {
	if err := s.persist(gen, localstore.ClearActiveMonitoring); err != nil {
		s.log.Warn("failed to clear monitoring session record", logger.Error(err))
	}
}

func closeSub(sub remotestore.Subscription) {
	if sub != nil {
		_ = sub.Close()
	}
}
