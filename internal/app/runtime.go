package app

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/pairwatch/internal/buildinfo"
	"github.com/tphakala/pairwatch/internal/conf"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// Runtime is the process-level bootstrap shared by the CLI commands:
// settings, the central logger and error telemetry.
type Runtime struct {
	ConfigFile string
	Debug      bool
	Build      *buildinfo.Context
	Settings   *conf.Settings

	central *logger.CentralLogger
	sentry  bool
}

// Init loads the settings and installs the logger and, when enabled, the
// Sentry reporter.
func (r *Runtime) Init() error {
	settings, err := conf.Load(r.ConfigFile)
	if err != nil {
		return err
	}
	if r.Debug {
		settings.Debug = true
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	r.Settings = settings

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	r.central = central

	if settings.Sentry.Enabled {
		if err := r.initSentry(); err != nil {
			// Telemetry is optional; keep running without it.
			central.Module("telemetry").Warn("sentry disabled", logger.Error(err))
		}
	}
	return nil
}

func (r *Runtime) initSentry() error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              r.Settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          "pairwatch@" + r.Build.GetVersion(),
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	r.sentry = true
	return nil
}

// Open assembles the App for a command.
func (r *Runtime) Open(ctx context.Context, opts ...Option) (*App, error) {
	if r.Settings == nil {
		return nil, errors.Newf("runtime is not initialized").
			Component("app").
			Category(errors.CategoryState).
			Build()
	}
	base := []Option{WithBuildInfo(r.Build)}
	if r.central != nil {
		base = append(base, WithLogger(r.central.Module("app")))
	}
	return Open(ctx, r.Settings, append(base, opts...)...)
}

// Close flushes telemetry and buffered log output.
func (r *Runtime) Close() {
	if r.sentry {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(sentryFlushTimeout)
	}
	if r.central != nil {
		_ = r.central.Flush()
		_ = r.central.Close()
	}
}
