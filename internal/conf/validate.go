package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

var storeBackends = []string{"memory", "sqlite", "mysql", "mqtt"}

// ValidationError collects every problem found in a Settings value.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings checks the whole tree and reports all problems at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}
	for _, validate := range []func(*Settings) []string{
		validateDetectionSettings,
		validatePairingSettings,
		validateMonitoringSettings,
		validateStoreSettings,
		validateNotificationSettings,
		validateHTTPSettings,
		validateSentrySettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}
	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDetectionSettings(s *Settings) []string {
	d := &s.Detection
	var errs []string
	if d.InputSize <= 0 {
		errs = append(errs, "detection.input_size must be positive")
	}
	if d.NumClasses <= 0 {
		errs = append(errs, "detection.num_classes must be positive")
	}
	if d.NumCandidates <= 0 {
		errs = append(errs, "detection.num_candidates must be positive")
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		errs = append(errs, "detection.confidence_threshold must be between 0 and 1")
	}
	if d.IoUThreshold < 0 || d.IoUThreshold > 1 {
		errs = append(errs, "detection.iou_threshold must be between 0 and 1")
	}
	if d.MaxDetections < 0 {
		errs = append(errs, "detection.max_detections must not be negative")
	}
	if d.Threads < 0 {
		errs = append(errs, "detection.threads must not be negative")
	}
	return errs
}

func validatePairingSettings(s *Settings) []string {
	p := &s.Pairing
	var errs []string
	if p.CodeLength < 4 || p.CodeLength > 16 {
		errs = append(errs, "pairing.code_length must be between 4 and 16")
	}
	if len(p.CodeAlphabet) < 2 {
		errs = append(errs, "pairing.code_alphabet needs at least two characters")
	}
	for _, r := range p.CodeAlphabet {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			errs = append(errs, "pairing.code_alphabet may only contain A-Z and 0-9")
			break
		}
	}
	if p.CacheTTL < 0 {
		errs = append(errs, "pairing.cache_ttl must not be negative")
	}
	if p.AlertCooldown < 0 {
		errs = append(errs, "pairing.alert_cooldown must not be negative")
	}
	return errs
}

func validateMonitoringSettings(s *Settings) []string {
	m := &s.Monitoring
	var errs []string
	if m.ReconnectDelay <= 0 {
		errs = append(errs, "monitoring.reconnect_delay must be positive")
	}
	if m.MaxReconnectDelay < 0 {
		errs = append(errs, "monitoring.max_reconnect_delay must not be negative")
	}
	if m.MaxReconnectDelay > 0 && m.MaxReconnectDelay < m.ReconnectDelay {
		errs = append(errs, "monitoring.max_reconnect_delay must be 0 or at least reconnect_delay")
	}
	if m.HeartbeatInterval <= 0 {
		errs = append(errs, "monitoring.heartbeat_interval must be positive")
	}
	return errs
}

func validateStoreSettings(s *Settings) []string {
	st := &s.Store
	var errs []string
	if !slices.Contains(storeBackends, st.Backend) {
		return append(errs, fmt.Sprintf("store.backend %q must be one of %s", st.Backend, strings.Join(storeBackends, ", ")))
	}
	switch st.Backend {
	case "sqlite":
		if st.SQLite.Path == "" {
			errs = append(errs, "store.sqlite.path is required for the sqlite backend")
		}
	case "mysql":
		if st.MySQL.Host == "" || st.MySQL.Database == "" {
			errs = append(errs, "store.mysql.host and store.mysql.database are required for the mysql backend")
		}
		if st.MySQL.Port <= 0 || st.MySQL.Port > 65535 {
			errs = append(errs, "store.mysql.port must be a valid port")
		}
	case "mqtt":
		if _, err := url.Parse(st.MQTT.Broker); err != nil || st.MQTT.Broker == "" {
			errs = append(errs, "store.mqtt.broker must be a broker URL like tcp://host:1883")
		}
		if st.MQTT.ReadTimeout <= 0 {
			errs = append(errs, "store.mqtt.read_timeout must be positive")
		}
	}
	if (st.Backend == "sqlite" || st.Backend == "mysql") && st.PollInterval <= 0 {
		errs = append(errs, "store.poll_interval must be positive")
	}
	return errs
}

func validateNotificationSettings(s *Settings) []string {
	n := &s.Notification
	var errs []string
	if n.Shoutrrr.Enabled && len(n.Shoutrrr.URLs) == 0 {
		errs = append(errs, "notification.shoutrrr.urls is required when shoutrrr is enabled")
	}
	if n.Webhook.Enabled {
		u, err := url.Parse(n.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "notification.webhook.url must be an http(s) URL")
		}
	}
	if n.RateLimit < 0 {
		errs = append(errs, "notification.rate_limit must not be negative")
	}
	if n.Burst < 1 {
		errs = append(errs, "notification.burst must be at least 1")
	}
	return errs
}

func validateHTTPSettings(s *Settings) []string {
	if !s.HTTP.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.HTTP.Listen); err != nil {
		return []string{fmt.Sprintf("http.listen %q must be host:port", s.HTTP.Listen)}
	}
	return nil
}

func validateSentrySettings(s *Settings) []string {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return []string{"sentry.dsn is required when sentry is enabled"}
	}
	return nil
}
