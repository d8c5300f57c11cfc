package pairing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/pairwatch/internal/detection"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

// DefaultAlertCooldown is the minimum gap between two alerts for the same
// label on one pairing.
const DefaultAlertCooldown = 30 * time.Second

// PublisherOptions configures an AlertPublisher.
type PublisherOptions struct {
	Cooldown time.Duration
	Now      func() time.Time
	Logger   logger.Logger
}

// AlertPublisher appends alerts under a pairing on behalf of the camera.
type AlertPublisher struct {
	store    remotestore.Store
	cooldown time.Duration
	now      func() time.Time
	log      logger.Logger

	mu   sync.Mutex
	last map[string]time.Time // code + label -> last publish
}

func NewAlertPublisher(store remotestore.Store, opts PublisherOptions) *AlertPublisher {
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("pairing.publisher")
	}
	return &AlertPublisher{
		store:    store,
		cooldown: cooldown,
		now:      now,
		log:      log,
		last:     make(map[string]time.Time),
	}
}

// Publish appends one alert stamped with the store clock. The returned
// Timestamp is the local time of the call.
func (p *AlertPublisher) Publish(ctx context.Context, code, label string, confidence float32) (Alert, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Alert{}, errors.ValidationError("alert label is empty")
	}
	if math.IsNaN(float64(confidence)) || confidence < 0 || confidence > 1 {
		return Alert{}, errors.ValidationError(fmt.Sprintf("alert confidence %v outside [0, 1]", confidence))
	}

	alert := Alert{ObjectLabel: label, Confidence: confidence}
	id, err := p.store.Append(ctx, remotestore.AlertsPath(code), EncodeAlert(alert))
	if err != nil {
		return Alert{}, err
	}
	alert.ID = id
	alert.Timestamp = p.now()
	p.log.Info("alert published",
		logger.String("code", code),
		logger.String("label", label),
		logger.Float32("confidence", confidence),
		logger.String("id", id))
	return alert, nil
}

// PublishMatches publishes one alert per watched label found in detections,
// using the most confident detection of that label. Labels published within
// the cooldown are skipped. Failures do not stop the remaining labels; they
// are returned joined.
func (p *AlertPublisher) PublishMatches(ctx context.Context, code string, watchList []string, detections []detection.Detection) ([]Alert, error) {
	var order []string
	best := make(map[string]detection.Detection)
	for _, d := range detections {
		if !Watches(watchList, d.Label) {
			continue
		}
		key := strings.ToLower(d.Label)
		current, seen := best[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || d.Confidence > current.Confidence {
			best[key] = d
		}
	}

	var published []Alert
	var errs []error
	for _, key := range order {
		d := best[key]
		if !p.reserve(code, key) {
			p.log.Debug("alert suppressed by cooldown", logger.String("code", code), logger.String("label", d.Label))
			continue
		}
		alert, err := p.Publish(ctx, code, d.Label, d.Confidence)
		if err != nil {
			p.unreserve(code, key)
			errs = append(errs, err)
			continue
		}
		published = append(published, alert)
	}
	return published, errors.Join(errs...)
}

func (p *AlertPublisher) reserve(code, label string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := code + "\x00" + label
	now := p.now()
	if last, ok := p.last[key]; ok && now.Sub(last) < p.cooldown {
		return false
	}
	p.last[key] = now
	return true
}

func (p *AlertPublisher) unreserve(code, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, code+"\x00"+label)
}
