package monitoring

import (
	"context"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/notification"
	"github.com/tphakala/pairwatch/internal/pairing"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

// attachLocked makes sub the live subscription and starts its reader.
func (s *Session) attachLocked(gen uint64, sub remotestore.Subscription) {
	s.sub = sub
	done := s.ctx.Done()
	s.wg.Go(func() { s.pump(gen, sub, done) })
}

func (s *Session) pump(gen uint64, sub remotestore.Subscription, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				s.subscriptionFailed(gen, sub, remotestore.ErrClosed)
				return
			}
			s.deliver(gen, snap)
		case err, ok := <-sub.Errors():
			if !ok {
				err = remotestore.ErrClosed
			}
			s.subscriptionFailed(gen, sub, err)
			return
		}
	}
}

// deliver hands the alerts of snap not seen before to the callbacks, in
// store order.
func (s *Session) deliver(gen uint64, snap remotestore.Snapshot) {
	s.mu.Lock()
	if gen != s.generation || s.seen == nil {
		s.mu.Unlock()
		return
	}
	code := s.code
	ctx := s.ctx
	var events []AlertEvent
	for _, child := range snap.Children {
		if _, ok := s.seen[child.Key]; ok {
			continue
		}
		s.seen[child.Key] = struct{}{}
		alert, err := pairing.DecodeAlert(child.Key, child.Value)
		if err != nil {
			s.log.Debug("dropping malformed alert", logger.String("id", child.Key), logger.Error(err))
			continue
		}
		events = append(events, AlertEvent{
			Alert:       alert,
			PairingCode: code,
			Matched:     pairing.Watches(s.objects, alert.ObjectLabel),
			Historical:  alert.Timestamp.Before(s.startedAt),
		})
	}
	s.mu.Unlock()

	for _, ev := range events {
		if !s.dispatch(ctx, gen, ev) {
			return
		}
	}
}

// dispatch hands one event to the alert callback and the notifier. It
// reports false once generation gen has been torn down, which OnAlert
// itself may do.
func (s *Session) dispatch(ctx context.Context, gen uint64, ev AlertEvent) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.inAlert = true
	s.mu.Unlock()

	s.metrics.RecordAlert(ev.Matched, ev.Historical)
	s.log.Debug("alert received",
		logger.String("id", ev.Alert.ID),
		logger.String("label", ev.Alert.ObjectLabel),
		logger.Bool("matched", ev.Matched),
		logger.Bool("historical", ev.Historical))
	if s.onAlert != nil {
		s.onAlert(ev)
	}

	s.mu.Lock()
	s.inAlert = false
	live := gen == s.generation
	s.mu.Unlock()
	if !live {
		return false
	}
	if ev.Matched && !ev.Historical {
		s.notify(ctx, ev)
	}
	return true
}

func (s *Session) notify(ctx context.Context, ev AlertEvent) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	err := s.notifier.Notify(ctx, notification.Notice{
		AlertID:     ev.Alert.ID,
		PairingCode: ev.PairingCode,
		ObjectLabel: ev.Alert.ObjectLabel,
		Confidence:  ev.Alert.Confidence,
		Timestamp:   ev.Alert.Timestamp,
	})
	if err != nil {
		s.log.Warn("notification failed", logger.String("id", ev.Alert.ID), logger.Error(err))
	}
}

// subscriptionFailed moves a live session to reconnecting. Failures of
// replaced subscriptions are ignored.
func (s *Session) subscriptionFailed(gen uint64, sub remotestore.Subscription, cause error) {
	s.mu.Lock()
	if gen != s.generation || s.sub != sub {
		s.mu.Unlock()
		closeSub(sub)
		return
	}
	s.sub = nil
	code := s.code
	s.setStateLocked(StateReconnecting)
	s.scheduleReconnectLocked(gen)
	s.mu.Unlock()

	closeSub(sub)
	s.log.Warn("alert subscription lost, reconnecting",
		logger.String("code", code),
		logger.Duration("delay", s.backoff(0)),
		logger.Error(cause))
	s.emit(StateReconnecting)
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending.
func (s *Session) scheduleReconnectLocked(gen uint64) {
	if s.reconnect != nil {
		return
	}
	s.reconnect = s.clock.AfterFunc(s.backoff(s.attempts), func() { s.reconnectNow(gen) })
}

// backoff returns the wait before the attempt following n failures.
func (s *Session) backoff(n int) time.Duration {
	delay := s.opts.ReconnectDelay
	limit := s.opts.MaxReconnectDelay
	if limit <= delay {
		return delay
	}
	for range n {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}

func (s *Session) reconnectNow(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	code := s.code
	ctx := s.ctx
	attempt := s.attempts + 1
	s.mu.Unlock()

	s.metrics.IncReconnectAttempt()
	_, err := s.pairings.Validate(ctx, code)
	if errors.Is(err, pairing.ErrPairingNotFound) {
		s.pairingGone(gen, code)
		return
	}
	var sub remotestore.Subscription
	if err == nil {
		sub, err = s.store.Subscribe(ctx, remotestore.AlertsPath(code), pairing.AlertOrderField)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		closeSub(sub)
		return
	}
	if err != nil {
		s.attempts = attempt
		s.scheduleReconnectLocked(gen)
		s.mu.Unlock()
		s.log.Warn("resubscribe failed",
			logger.String("code", code),
			logger.Int("attempt", attempt),
			logger.Duration("next_delay", s.backoff(attempt)),
			logger.Error(err))
		return
	}
	s.attempts = 0
	s.attachLocked(gen, sub)
	s.setStateLocked(StateActive)
	s.mu.Unlock()

	s.metrics.IncReconnected()
	s.log.Info("alert subscription restored", logger.String("code", code), logger.Int("attempt", attempt))
	s.emit(StateActive)
}

// scheduleHeartbeatLocked arms the next lastActive write. The heartbeat also
// runs while reconnecting, so the peer keeps seeing the device as present.
func (s *Session) scheduleHeartbeatLocked(gen uint64) {
	s.heartbeat = s.clock.AfterFunc(s.opts.HeartbeatInterval, func() { s.beat(gen) })
}

// beat writes the liveness timestamp and re-arms the heartbeat. Write
// failures never affect the session state; a pairing deleted by the peer
// ends the session.
func (s *Session) beat(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.state.running() {
		s.mu.Unlock()
		return
	}
	s.heartbeat = nil
	code := s.code
	ctx := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	err := s.pairings.TouchDevice(ctx, code, s.opts.Role)
	cancel()
	s.metrics.RecordHeartbeat(err)
	if errors.Is(err, pairing.ErrPairingNotFound) {
		s.pairingGone(gen, code)
		return
	}
	if err != nil {
		s.log.Warn("heartbeat failed", logger.String("code", code), logger.Error(err))
	} else {
		s.log.Trace("heartbeat sent", logger.String("code", code))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation && s.heartbeat == nil {
		s.scheduleHeartbeatLocked(gen)
	}
}
