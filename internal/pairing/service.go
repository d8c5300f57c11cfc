package pairing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

const (
	DefaultCacheTTL          = 5 * time.Minute
	defaultMaxCreateAttempts = 5
)

var (
	// ErrPairingNotFound means the code does not name a pairing in the
	// remote store.
	ErrPairingNotFound = errors.NewStd("pairing not found")
	// ErrCodeSpaceExhausted means no unused code was found within the
	// configured number of attempts.
	ErrCodeSpaceExhausted = errors.NewStd("no unused pairing code found")
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Codes             CodeGenerator
	CacheTTL          time.Duration
	MaxCreateAttempts int
	Logger            logger.Logger
}

// Service manages pairings in the remote store. The remote store is the
// source of truth; the in-process cache and the local pairing list are
// advisory and are dropped whenever the remote store reports a code missing.
type Service struct {
	store       remotestore.Store
	local       localstore.Store
	codes       CodeGenerator
	cache       *cache.Cache
	group       singleflight.Group
	maxAttempts int
	log         logger.Logger
}

// NewService creates a Service. local may be nil when the device keeps no
// pairing list.
func NewService(store remotestore.Store, local localstore.Store, opts ServiceOptions) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	attempts := opts.MaxCreateAttempts
	if attempts <= 0 {
		attempts = defaultMaxCreateAttempts
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("pairing")
	}
	return &Service{
		store:       store,
		local:       local,
		codes:       opts.Codes,
		cache:       cache.New(ttl, ttl*2),
		maxAttempts: attempts,
		log:         log,
	}
}

// Codes returns the generator used for new codes.
func (s *Service) Codes() CodeGenerator { return s.codes }

func notFound(code string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrPairingNotFound, code)).
		Component("pairing").
		Category(errors.CategoryNotFound).
		Context("code", code).
		Build()
}

// Create registers a new active pairing for the camera side and returns it
// as stored.
func (s *Service) Create(ctx context.Context, objects []string, cameraToken string) (*Pairing, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, err
		}
		_, err = s.store.Read(ctx, remotestore.PairingPath(code))
		if err == nil {
			s.log.Debug("pairing code collision", logger.Int("attempt", attempt))
			continue
		}
		if !errors.Is(err, remotestore.ErrNotFound) {
			return nil, err
		}

		p := &Pairing{Code: code, SelectedObjects: objects, IsActive: true}
		if err := s.store.Write(ctx, remotestore.PairingPath(code), EncodePairing(p)); err != nil {
			return nil, err
		}
		device := EncodeDevice(Device{PushToken: cameraToken})
		if err := s.store.Write(ctx, remotestore.DevicePath(code, string(RoleCamera)), device); err != nil {
			return nil, err
		}

		created, err := s.fetch(ctx, code)
		if err != nil {
			return nil, err
		}
		s.remember(code, RoleCamera, created)
		s.log.Info("pairing created",
			logger.String("code", code),
			logger.Int("objects", len(created.SelectedObjects)))
		return created, nil
	}
	return nil, errors.New(ErrCodeSpaceExhausted).
		Component("pairing").
		Category(errors.CategoryPairing).
		Context("attempts", s.maxAttempts).
		Build()
}

// Get returns the pairing, served from the cache while it is fresh.
func (s *Service) Get(ctx context.Context, code string) (*Pairing, error) {
	if cached, found := s.cache.Get(code); found {
		if p, ok := cached.(*Pairing); ok {
			return clonePairing(p), nil
		}
	}
	return s.lookup(ctx, code)
}

// Validate confirms code against the remote store, bypassing the cache.
// It fails closed: when the store cannot be reached the error is returned
// and the code is not treated as valid.
func (s *Service) Validate(ctx context.Context, code string) (*Pairing, error) {
	return s.lookup(ctx, code)
}

// lookup reads the pairing remotely, collapsing concurrent lookups of one
// code into a single read.
func (s *Service) lookup(ctx context.Context, code string) (*Pairing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.codes.Valid(code) {
		return nil, notFound(code)
	}
	ch := s.group.DoChan(code, func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx), code)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clonePairing(res.Val.(*Pairing)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fetch(ctx context.Context, code string) (*Pairing, error) {
	v, err := s.store.Read(ctx, remotestore.PairingPath(code))
	if err != nil {
		if errors.Is(err, remotestore.ErrNotFound) {
			s.Invalidate(code)
			return nil, notFound(code)
		}
		return nil, err
	}
	devices, err := s.store.List(ctx, remotestore.DevicesPath(code), "")
	if err != nil {
		return nil, err
	}
	p, err := DecodePairing(code, v, devices)
	if err != nil {
		return nil, err
	}
	s.cache.Set(code, p, cache.DefaultExpiration)
	return clonePairing(p), nil
}

// Invalidate drops every advisory copy of code: the cache entry and the
// local pairing list entry.
func (s *Service) Invalidate(code string) {
	s.cache.Delete(code)
	if s.local == nil {
		return
	}
	if err := localstore.RemovePairingEntry(s.local, code); err != nil {
		s.log.Warn("failed to remove local pairing entry", logger.String("code", code), logger.Error(err))
	}
}

// Join registers a device for role under an existing pairing.
func (s *Service) Join(ctx context.Context, code string, role Role, pushToken string) (*Pairing, error) {
	if !role.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("unknown role %q", role))
	}
	if _, err := s.Validate(ctx, code); err != nil {
		return nil, err
	}
	device := EncodeDevice(Device{PushToken: pushToken})
	if err := s.store.Write(ctx, remotestore.DevicePath(code, string(role)), device); err != nil {
		return nil, err
	}
	s.cache.Delete(code)
	p, err := s.fetch(ctx, code)
	if err != nil {
		return nil, err
	}
	s.remember(code, role, p)
	s.log.Info("joined pairing", logger.String("code", code), logger.String("role", string(role)))
	return p, nil
}

// UpdateSelectedObjects replaces the pairing's watch list.
func (s *Service) UpdateSelectedObjects(ctx context.Context, code string, objects []string) error {
	objects = NormalizeObjects(objects)
	err := s.store.Update(ctx, remotestore.PairingPath(code), remotestore.Value{fieldSelectedObjects: objects})
	s.cache.Delete(code)
	if err != nil {
		return err
	}
	if s.local == nil {
		return nil
	}
	entries, err := localstore.LoadPairings(s.local)
	if err != nil {
		s.log.Warn("failed to read local pairings", logger.Error(err))
		return nil
	}
	if entry, ok := entries[code]; ok {
		entry.SelectedObjects = objects
		if err := localstore.SavePairingEntry(s.local, code, entry); err != nil {
			s.log.Warn("failed to update local pairing entry", logger.String("code", code), logger.Error(err))
		}
	}
	return nil
}

// TouchDevice stamps the role's lastActive with the store clock. It returns
// ErrPairingNotFound instead of recreating a deleted pairing's device node.
func (s *Service) TouchDevice(ctx context.Context, code string, role Role) error {
	if _, err := s.store.Read(ctx, remotestore.PairingPath(code)); err != nil {
		if errors.Is(err, remotestore.ErrNotFound) {
			s.Invalidate(code)
			return notFound(code)
		}
		return err
	}
	return s.store.Update(ctx, remotestore.DevicePath(code, string(role)), remotestore.Value{
		fieldLastActive: remotestore.ServerTimestamp,
	})
}

// Delete removes the pairing and everything below it.
func (s *Service) Delete(ctx context.Context, code string) error {
	if err := s.store.Delete(ctx, remotestore.PairingPath(code)); err != nil {
		return err
	}
	s.Invalidate(code)
	s.log.Info("pairing deleted", logger.String("code", code))
	return nil
}

// Alerts lists the pairing's alerts newest first.
func (s *Service) Alerts(ctx context.Context, code string) ([]Alert, error) {
	children, err := s.store.List(ctx, remotestore.AlertsPath(code), AlertOrderField)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(children))
	for _, c := range children {
		a, err := DecodeAlert(c.Key, c.Value)
		if err != nil {
			s.log.Warn("skipping malformed alert", logger.String("id", c.Key), logger.Error(err))
			continue
		}
		alerts = append(alerts, a)
	}
	SortAlertsNewestFirst(alerts)
	return alerts, nil
}

// remember records the pairing in the local list. Failures are logged; the
// local list is advisory.
func (s *Service) remember(code string, role Role, p *Pairing) {
	if s.local == nil {
		return
	}
	entry := localstore.PairingEntry{
		Role:            string(role),
		SelectedObjects: p.SelectedObjects,
		CreatedAt:       p.CreatedAt,
		IsActive:        p.IsActive,
	}
	if err := localstore.SavePairingEntry(s.local, code, entry); err != nil {
		s.log.Warn("failed to save local pairing entry", logger.String("code", code), logger.Error(err))
	}
}

func clonePairing(p *Pairing) *Pairing {
	out := *p
	out.SelectedObjects = slices.Clone(p.SelectedObjects)
	out.Devices = maps.Clone(p.Devices)
	return &out
}
