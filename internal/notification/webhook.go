package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
)

const (
	DefaultWebhookTimeout = 10 * time.Second

	// maxErrorBodySize limits how much of an error response is kept.
	maxErrorBodySize = 1024
	webhookUserAgent = "pairwatch-webhook/1.0"
)

// WebhookPayload is the JSON body posted for each notice.
type WebhookPayload struct {
	Type        string    `json:"type"`
	AlertID     string    `json:"alert_id"`
	PairingCode string    `json:"pairing_code"`
	ObjectLabel string    `json:"object_label"`
	Confidence  float32   `json:"confidence"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// WebhookProvider posts notices as JSON to a single endpoint.
type WebhookProvider struct {
	name    string
	enabled bool
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
}

// WebhookOption customizes a WebhookProvider.
type WebhookOption func(*WebhookProvider)

// WithHTTPClient replaces the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookProvider) { w.client = c }
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) WebhookOption {
	return func(w *WebhookProvider) { w.token = token }
}

// NewWebhookProvider creates a provider posting to endpoint.
func NewWebhookProvider(name string, enabled bool, endpoint string, timeout time.Duration, opts ...WebhookOption) *WebhookProvider {
	if name == "" {
		name = "webhook"
	}
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	w := &WebhookProvider{
		name:    name,
		enabled: enabled,
		url:     endpoint,
		timeout: timeout,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookProvider) Name() string  { return w.name }
func (w *WebhookProvider) Enabled() bool { return w.enabled }

func (w *WebhookProvider) Validate() error {
	if !w.enabled {
		return nil
	}
	if err := validateEndpointURL(w.url); err != nil {
		return errors.New(fmt.Errorf("%s: %w", w.name, err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.NewStd("URL host is required")
	}
	return nil
}

func (w *WebhookProvider) Send(ctx context.Context, n Notice) error {
	body, err := json.Marshal(WebhookPayload{
		Type:        "detection",
		AlertID:     n.AlertID,
		PairingCode: n.PairingCode,
		ObjectLabel: n.ObjectLabel,
		Confidence:  n.Confidence,
		Title:       n.Title(),
		Message:     n.Message(),
		Timestamp:   n.Timestamp.UTC(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return w.fail(fmt.Errorf("failed to create request: %w", err), 0)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("request cancelled: %w", err)
		case errors.Is(err, context.DeadlineExceeded):
			return w.fail(fmt.Errorf("request timed out: %w", err), 0)
		}
		return w.fail(fmt.Errorf("request failed: %w", err), 0)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return w.fail(fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg), resp.StatusCode)
	}
	return nil
}

func (w *WebhookProvider) fail(err error, status int) error {
	b := errors.New(err).
		Component("notification").
		Category(errors.CategoryNotification).
		Context("provider", w.name)
	if status != 0 {
		b = b.Context("status", status)
	}
	return b.Build()
}
