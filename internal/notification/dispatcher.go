package notification

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/observability/metrics"
)

const (
	DefaultRateLimit = 1.0
	DefaultBurst     = 5
	DefaultDedupeTTL = time.Hour

	outcomeSent        = "sent"
	outcomeDuplicate   = "duplicate"
	outcomeRateLimited = "rate_limited"
	outcomeFailed      = "failed"
)

// ErrRateLimited is returned when a notice is dropped by the rate limiter.
var ErrRateLimited = errors.NewStd("notification rate limit exceeded")

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// RateLimit is the sustained number of notices per second; zero
	// disables limiting.
	RateLimit float64
	Burst     int
	DedupeTTL time.Duration
	Breaker   BreakerConfig
	Logger    logger.Logger
	Metrics   *metrics.NotificationMetrics
	Now       func() time.Time
}

// Dispatcher fans a notice out to every enabled provider. Each alert ID is
// dispatched at most once within the dedupe window, whatever the outcome.
type Dispatcher struct {
	providers []Provider
	breakers  map[string]*breaker
	limiter   *rate.Limiter
	sent      *cache.Cache
	log       logger.Logger
	metrics   *metrics.NotificationMetrics
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher over providers.
func NewDispatcher(providers []Provider, opts DispatcherOptions) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("notification")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.DedupeTTL
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = DefaultBurst
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	d := &Dispatcher{
		providers: providers,
		breakers:  make(map[string]*breaker, len(providers)),
		limiter:   limiter,
		sent:      cache.New(ttl, ttl*2),
		log:       log,
		metrics:   opts.Metrics,
		now:       now,
	}
	for _, p := range providers {
		d.breakers[p.Name()] = newBreaker(p.Name(), opts.Breaker, now, log)
	}
	return d
}

// Providers returns the names of the enabled providers.
func (d *Dispatcher) Providers() []string {
	var names []string
	for _, p := range d.providers {
		if p.Enabled() {
			names = append(names, p.Name())
		}
	}
	return names
}

// Notify delivers n to every enabled provider. A repeated alert ID is
// ignored. Provider failures are logged and returned joined.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) error {
	if n.AlertID == "" {
		return errors.ValidationError("notice has no alert id")
	}
	if err := d.sent.Add(n.AlertID, struct{}{}, cache.DefaultExpiration); err != nil {
		d.metrics.RecordDispatch(outcomeDuplicate)
		d.log.Debug("notice already dispatched", logger.String("alert_id", n.AlertID))
		return nil
	}
	if !d.limiter.AllowN(d.now(), 1) {
		d.metrics.RecordDispatch(outcomeRateLimited)
		d.log.Warn("notice dropped by rate limiter",
			logger.String("alert_id", n.AlertID),
			logger.String("label", n.ObjectLabel))
		return errors.New(ErrRateLimited).
			Component("notification").
			Category(errors.CategoryLimit).
			Context("alert_id", n.AlertID).
			Build()
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, p := range d.providers {
		if !p.Enabled() {
			continue
		}
		wg.Go(func() {
			if err := d.deliver(ctx, p, n); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if len(errs) > 0 {
		d.metrics.RecordDispatch(outcomeFailed)
		return errors.New(errors.Join(errs...)).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("alert_id", n.AlertID).
			Context("failed_providers", len(errs)).
			Build()
	}
	d.metrics.RecordDispatch(outcomeSent)
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, p Provider, n Notice) error {
	start := time.Now()
	err := d.breakers[p.Name()].Call(ctx, func(ctx context.Context) error {
		return p.Send(ctx, n)
	})
	d.metrics.RecordDelivery(p.Name(), time.Since(start), err)
	if err != nil {
		d.log.Warn("notification delivery failed",
			logger.String("provider", p.Name()),
			logger.String("alert_id", n.AlertID),
			logger.Error(err))
		return err
	}
	d.log.Debug("notification delivered",
		logger.String("provider", p.Name()),
		logger.String("alert_id", n.AlertID),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}
