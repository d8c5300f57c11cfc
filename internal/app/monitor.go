package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/httpserver"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/monitoring"
	"github.com/tphakala/pairwatch/internal/notification"
)

// Monitor is a monitoring session together with the status server that
// reports on it.
type Monitor struct {
	Session *monitoring.Session

	app  *App
	log  logger.Logger
	idle chan struct{}
}

// MonitorOptions are the optional hooks of NewMonitor.
type MonitorOptions struct {
	OnAlert  monitoring.AlertHandler
	Notifier notification.Notifier // replaces the configured providers
	Clock    monitoring.Clock
}

// NewMonitor builds the session from the monitoring and notification
// settings.
func (a *App) NewMonitor(opts MonitorOptions) (*Monitor, error) {
	log := a.log.Module("monitor")

	notifier := opts.Notifier
	if notifier == nil {
		dispatcher, err := notification.NewDispatcherFromSettings(&a.Settings.Notification,
			a.log.Module("notification"), a.Metrics.Notification)
		if err != nil {
			return nil, err
		}
		log.Info("notifications configured", logger.Strings("providers", dispatcher.Providers()))
		notifier = dispatcher
	}

	deviceID := a.Settings.Monitoring.DeviceID
	if deviceID == "" {
		deviceID = a.Build.GetSystemID()
	}

	m := &Monitor{app: a, log: log, idle: make(chan struct{}, 1)}
	session, err := monitoring.NewSession(monitoring.Deps{
		Store:    a.Store,
		Pairings: a.Pairings,
		Local:    a.Local,
		Notifier: notifier,
		OnAlert:  opts.OnAlert,
		OnStateChange: func(s monitoring.State) {
			log.Info("monitoring state changed", logger.String("state", s.String()))
			if s == monitoring.StateIdle {
				select {
				case m.idle <- struct{}{}:
				default:
				}
			}
		},
		Logger:  a.log.Module("monitoring"),
		Metrics: a.Metrics.Session,
		Clock:   opts.Clock,
	}, monitoring.Options{
		ReconnectDelay:    a.Settings.Monitoring.ReconnectDelay,
		MaxReconnectDelay: a.Settings.Monitoring.MaxReconnectDelay,
		HeartbeatInterval: a.Settings.Monitoring.HeartbeatInterval,
		DeviceID:          deviceID,
	})
	if err != nil {
		return nil, err
	}
	m.Session = session
	return m, nil
}

// Run starts the session with start and serves it until ctx is cancelled
// or the session is stopped. On cancellation the session is detached, so
// the next process can resume it.
func (m *Monitor) Run(ctx context.Context, start func(context.Context) error) error {
	if err := start(ctx); err != nil {
		return err
	}
	// Drop idle signals that predate the running session.
	select {
	case <-m.idle:
	default:
	}
	if m.Session.State() == monitoring.StateIdle {
		return nil
	}
	m.app.LogHost(ctx)

	defer func() {
		m.Session.Detach()
		m.Session.Wait()
	}()

	g, gctx := errgroup.WithContext(ctx)
	if m.app.Settings.HTTP.Enabled {
		srv, err := httpserver.New(m.app.Settings.HTTP.Listen,
			httpserver.WithSession(m.Session),
			httpserver.WithMetricsHandler(m.app.Metrics.Handler()),
			httpserver.WithVersion(m.app.Build.GetVersion()),
			httpserver.WithLogger(m.app.log.Module("httpserver")))
		if err != nil {
			return err
		}
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpserver.DefaultShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-m.idle:
			return errSessionStopped
		}
	})

	err := g.Wait()
	if errors.Is(err, errSessionStopped) {
		m.log.Info("monitoring session ended")
		return nil
	}
	return err
}

// errSessionStopped unwinds the errgroup when the session goes idle.
var errSessionStopped = errors.NewStd("monitoring session stopped")
