package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// PAIRWATCH_MONITORING_RECONNECT_DELAY=15s.
const EnvPrefix = "PAIRWATCH"

type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings lists the variables checked before viper sees them. Every
// other key is still overridable through AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "PAIRWATCH_DEBUG", validateEnvBool},
		{"store.backend", "PAIRWATCH_STORE_BACKEND", validateEnvBackend},
		{"store.mqtt.broker", "PAIRWATCH_STORE_MQTT_BROKER", nil},
		{"store.mysql.password", "PAIRWATCH_STORE_MYSQL_PASSWORD", nil},
		{"store.mqtt.password", "PAIRWATCH_STORE_MQTT_PASSWORD", nil},
		{"detection.confidence_threshold", "PAIRWATCH_DETECTION_CONFIDENCE_THRESHOLD", validateEnvUnitInterval},
		{"detection.iou_threshold", "PAIRWATCH_DETECTION_IOU_THRESHOLD", validateEnvUnitInterval},
		{"monitoring.reconnect_delay", "PAIRWATCH_MONITORING_RECONNECT_DELAY", validateEnvDuration},
		{"monitoring.heartbeat_interval", "PAIRWATCH_MONITORING_HEARTBEAT_INTERVAL", validateEnvDuration},
		{"monitoring.device_id", "PAIRWATCH_MONITORING_DEVICE_ID", nil},
		{"notification.webhook.token", "PAIRWATCH_NOTIFICATION_WEBHOOK_TOKEN", nil},
		{"sentry.dsn", "PAIRWATCH_SENTRY_DSN", nil},
	}
}

func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}

func bindEnvVars(v *viper.Viper) error {
	var problems []string
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !slices.Contains(storeBackends, value) {
		return fmt.Errorf("must be one of %s", strings.Join(storeBackends, ", "))
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration like 10s")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}
