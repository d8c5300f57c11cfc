// Package app assembles pairwatch's components from settings. The CLI
// commands are thin wrappers around it.
package app

import (
	"context"
	"sync"

	"github.com/tphakala/pairwatch/internal/buildinfo"
	"github.com/tphakala/pairwatch/internal/conf"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/observability"
	"github.com/tphakala/pairwatch/internal/pairing"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

// App holds the components shared by every command.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Metrics  *observability.Metrics
	Store    remotestore.Store
	Local    localstore.Store
	Pairings *pairing.Service

	log       logger.Logger
	ownsStore bool
	closeOnce sync.Once
}

type options struct {
	store  remotestore.Store
	local  localstore.Store
	build  *buildinfo.Context
	logger logger.Logger
}

// Option customizes Open.
type Option func(*options)

// WithStore uses store instead of opening the configured backend. The caller
// keeps ownership of store.
func WithStore(store remotestore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithLocalStore uses local instead of the configured local file.
func WithLocalStore(local localstore.Store) Option {
	return func(o *options) { o.local = local }
}

// WithBuildInfo sets the version metadata reported by the status server.
func WithBuildInfo(build *buildinfo.Context) Option {
	return func(o *options) { o.build = build }
}

// WithLogger sets the logger the components derive their module loggers
// from.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// Open connects the remote store and the local store and builds the pairing
// service.
func Open(ctx context.Context, settings *conf.Settings, opts ...Option) (*App, error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = logger.Global().Module("app")
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_metrics").
			Build()
	}

	local := o.local
	if local == nil {
		local, err = OpenLocalStore(settings.Local)
		if err != nil {
			return nil, err
		}
	}

	build := o.build
	if build == nil {
		build = buildinfo.NewContext("", "", "")
	}
	if build.SystemID == "" {
		// The identity is advisory; an unwritable store only loses it.
		if id, err := buildinfo.LoadOrCreateSystemID(local); err == nil {
			build.SystemID = id
		} else {
			log.Warn("failed to load device identity", logger.Error(err))
		}
	}

	a := &App{
		Settings: settings,
		Build:    build,
		Metrics:  m,
		Local:    local,
		log:      log,
	}

	a.Store = o.store
	if a.Store == nil {
		a.Store, err = OpenRemoteStore(ctx, settings.Store, log.Module("remotestore"), m.Store)
		if err != nil {
			return nil, err
		}
		a.ownsStore = true
	}

	a.Pairings = pairing.NewService(a.Store, local, pairing.ServiceOptions{
		Codes: pairing.CodeGenerator{
			Length:   settings.Pairing.CodeLength,
			Alphabet: settings.Pairing.CodeAlphabet,
		},
		CacheTTL: settings.Pairing.CacheTTL,
		Logger:   log.Module("pairing"),
	})
	return a, nil
}

// Logger returns a module logger derived from the app logger.
func (a *App) Logger(module string) logger.Logger {
	return a.log.Module(module)
}

// Publisher returns an alert publisher honouring the configured cooldown.
func (a *App) Publisher() *pairing.AlertPublisher {
	return pairing.NewAlertPublisher(a.Store, pairing.PublisherOptions{
		Cooldown: a.Settings.Pairing.AlertCooldown,
		Logger:   a.log.Module("publisher"),
	})
}

// Close releases the remote store when Open created it.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.ownsStore {
			err = a.Store.Close()
		}
	})
	return err
}
