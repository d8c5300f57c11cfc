// Package notification delivers local alerts for matched detections to
// external channels such as shoutrrr services and webhooks.
package notification

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Notice is a single user-facing notification about a matched alert.
type Notice struct {
	AlertID     string
	PairingCode string
	ObjectLabel string
	Confidence  float32
	Timestamp   time.Time
}

// Title is the short headline shown by providers that support one.
func (n Notice) Title() string {
	return fmt.Sprintf("%s detected", capitalize(n.ObjectLabel))
}

// Message is the notification body.
func (n Notice) Message() string {
	msg := fmt.Sprintf("%s detected with %.0f%% confidence", capitalize(n.ObjectLabel), n.Confidence*100)
	if !n.Timestamp.IsZero() {
		msg += " at " + n.Timestamp.Local().Format("15:04:05")
	}
	return msg
}

// capitalize title-cases a label, "teddy bear" becomes "Teddy Bear".
func capitalize(s string) string {
	if s == "" {
		return "Object"
	}
	// Casers carry state and are not shared between goroutines.
	return cases.Title(language.English).String(s)
}

// Notifier shows a notice to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice) error

func (f NotifierFunc) Notify(ctx context.Context, n Notice) error { return f(ctx, n) }

// Provider is one delivery channel.
type Provider interface {
	Name() string
	Enabled() bool
	// Validate checks the provider configuration before first use.
	Validate() error
	Send(ctx context.Context, n Notice) error
}
