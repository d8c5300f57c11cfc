package notification

import (
	"github.com/tphakala/pairwatch/internal/conf"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/observability/metrics"
)

// ProvidersFromSettings builds the configured providers and validates each
// enabled one.
func ProvidersFromSettings(s *conf.NotificationSettings) ([]Provider, error) {
	var providers []Provider
	if s.Shoutrrr.Enabled {
		providers = append(providers, NewShoutrrrProvider("shoutrrr", true, s.Shoutrrr.URLs, s.Shoutrrr.Timeout))
	}
	if s.Webhook.Enabled {
		providers = append(providers, NewWebhookProvider("webhook", true, s.Webhook.URL, s.Webhook.Timeout,
			WithBearerToken(s.Webhook.Token)))
	}

	var errs []error
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return providers, nil
}

// NewDispatcherFromSettings wires a Dispatcher from configuration. With no
// provider enabled the dispatcher still records and deduplicates notices.
func NewDispatcherFromSettings(s *conf.NotificationSettings, log logger.Logger, m *metrics.NotificationMetrics) (*Dispatcher, error) {
	providers, err := ProvidersFromSettings(s)
	if err != nil {
		return nil, err
	}
	return NewDispatcher(providers, DispatcherOptions{
		RateLimit: s.RateLimit,
		Burst:     s.Burst,
		DedupeTTL: s.DedupeTTL,
		Logger:    log,
		Metrics:   m,
	}), nil
}
