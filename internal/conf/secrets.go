package conf

import (
	"fmt"

	"github.com/tphakala/pairwatch/internal/secrets"
)

// resolveSecrets replaces credential settings with their resolved values:
// a *_file setting wins over the inline value, and ${VAR} placeholders in
// inline values are expanded from the environment.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"store.mysql.password", s.Store.MySQL.PasswordFile, &s.Store.MySQL.Password},
		{"store.mqtt.password", s.Store.MQTT.PasswordFile, &s.Store.MQTT.Password},
		{"notification.webhook.token", s.Notification.Webhook.TokenFile, &s.Notification.Webhook.Token},
		{"sentry.dsn", s.Sentry.DSNFile, &s.Sentry.DSN},
	}
	for _, f := range fields {
		v, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
		*f.value = v
	}

	for i, u := range s.Notification.Shoutrrr.URLs {
		v, err := secrets.Expand(u)
		if err != nil {
			return fmt.Errorf("failed to resolve notification.shoutrrr.urls[%d]: %w", i, err)
		}
		s.Notification.Shoutrrr.URLs[i] = v
	}
	return nil
}
