package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every EnhancedError built while it is installed.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	reporterMu         sync.RWMutex
	telemetryReporter  TelemetryReporter
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter installs reporter; nil removes it.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := telemetryReporter
	reporterMu.RUnlock()

	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// Expected outcomes that never produce an event.
var unreportedCategories = map[ErrorCategory]bool{
	CategoryNotFound:     true,
	CategoryCancellation: true,
	CategoryValidation:   true,
}

// SentryReporter forwards errors to Sentry with scrubbed messages. The
// caller is responsible for sentry.Init.
type SentryReporter struct {
	enabled bool
	capture func(*sentry.Event)
}

// NewSentryReporter returns a reporter using the global Sentry hub.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{
		enabled: enabled,
		capture: func(ev *sentry.Event) { sentry.CaptureEvent(ev) },
	}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends ee once. Categories in unreportedCategories are skipped.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() || unreportedCategories[ee.Category] {
		return
	}
	ee.MarkReported()
	sr.capture(buildSentryEvent(ee))
}

func buildSentryEvent(ee *EnhancedError) *sentry.Event {
	title := errorTitle(ee)
	message := ScrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	event := sentry.NewEvent()
	event.Message = message
	event.Level = levelFor(ee.Category)
	event.Fingerprint = []string{title, ee.GetComponent(), string(ee.Category)}
	event.Tags = map[string]string{
		"component":  ee.GetComponent(),
		"category":   string(ee.Category),
		"error_type": fmt.Sprintf("%T", ee.Err),
	}
	if ee.Priority != "" {
		event.Tags["priority"] = ee.Priority
	}
	if ctx := ee.GetContext(); len(ctx) > 0 {
		scrubbed := make(sentry.Context, len(ctx))
		for key, value := range ctx {
			if s, ok := value.(string); ok {
				value = ScrubMessage(s)
			}
			scrubbed[key] = value
		}
		event.Contexts = map[string]sentry.Context{"error": scrubbed}
	}
	event.Exception = []sentry.Exception{{Type: title, Value: message}}
	return event
}

// errorTitle builds e.g. "Monitoring Subscription Resubscribe".
func errorTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, titleCase(c))
	}
	parts = append(parts, titleCase(string(ee.Category)))
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, titleCase(op))
	}
	return strings.Join(parts, " ")
}

func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == '.' || r == ' ' })
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategorySubscription, CategoryHeartbeat, CategoryTimeout, CategoryNotification:
		return sentry.LevelWarning
	case CategoryTensorShape, CategoryModelInit, CategoryModelLoad:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}

var (
	queryRe       = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	userinfoRe    = regexp.MustCompile(`([a-z][a-z0-9+.\-]*://)[^/@\s]+@`)
	credentialRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
	// Pairing codes are the only credential a monitor needs to subscribe.
	pairingPathRe = regexp.MustCompile(`pairings/[A-Z0-9]{4,16}`)
)

// ScrubMessage removes URL queries, URL userinfo, credential assignments and
// pairing codes from message before it leaves the process.
func ScrubMessage(message string) string {
	message = queryRe.ReplaceAllString(message, "$1?[REDACTED]")
	message = userinfoRe.ReplaceAllString(message, "$1[REDACTED]@")
	for _, re := range credentialRes {
		message = re.ReplaceAllString(message, "[REDACTED]")
	}
	return pairingPathRe.ReplaceAllString(message, "pairings/[CODE]")
}
