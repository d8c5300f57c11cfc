package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/pairwatch/internal/errors"
)

// ShoutrrrProvider delivers notices through one shoutrrr sender covering
// every configured service URL.
type ShoutrrrProvider struct {
	name    string
	enabled bool
	urls    []string
	timeout time.Duration

	mu     sync.Mutex
	sender *router.ServiceRouter
}

// NewShoutrrrProvider creates a provider for urls. The sender is built on
// Validate or on first Send.
func NewShoutrrrProvider(name string, enabled bool, urls []string, timeout time.Duration) *ShoutrrrProvider {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "shoutrrr"
	}
	return &ShoutrrrProvider{
		name:    name,
		enabled: enabled,
		urls:    slices.Clone(urls),
		timeout: timeout,
	}
}

func (s *ShoutrrrProvider) Name() string  { return s.name }
func (s *ShoutrrrProvider) Enabled() bool { return s.enabled }

func (s *ShoutrrrProvider) Validate() error {
	if !s.enabled {
		return nil
	}
	_, err := s.ensureSender()
	return err
}

func (s *ShoutrrrProvider) ensureSender() (*router.ServiceRouter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender != nil {
		return s.sender, nil
	}
	if len(s.urls) == 0 {
		return nil, errors.New(fmt.Errorf("%s: at least one service URL is required", s.name)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		// Service URLs usually embed tokens.
		return nil, errors.Newf("%s: invalid service URL: %s", s.name, errors.ScrubMessage(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.timeout > 0 {
		sender.Timeout = s.timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	s.sender = sender
	return sender, nil
}

// Send delivers n to every service. The router applies its own timeout, so
// ctx is only checked before sending.
func (s *ShoutrrrProvider) Send(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sender, err := s.ensureSender()
	if err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(n.Title())
	var failed []error
	for _, e := range sender.Send(n.Message(), &params) {
		if e != nil {
			failed = append(failed, errors.NewStd(errors.ScrubMessage(e.Error())))
		}
	}
	if len(failed) > 0 {
		return errors.New(errors.Join(failed...)).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("provider", s.name).
			Build()
	}
	return nil
}
