package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults shared with the packages that consume them.
const (
	DefaultInputSize           = 640
	DefaultNumClasses          = 80
	DefaultNumCandidates       = 8400
	DefaultConfidenceThreshold = 0.25
	DefaultIoUThreshold        = 0.45

	DefaultCodeLength   = 8
	DefaultCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultReconnectDelay    = 10 * time.Second
	DefaultHeartbeatInterval = 2 * time.Minute
)

// setDefaultConfig registers a default for every key so that environment
// overrides apply even when the yaml file omits the key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/pairwatch.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("detection.model_path", "")
	v.SetDefault("detection.labels_path", "")
	v.SetDefault("detection.input_size", DefaultInputSize)
	v.SetDefault("detection.num_classes", DefaultNumClasses)
	v.SetDefault("detection.num_candidates", DefaultNumCandidates)
	v.SetDefault("detection.confidence_threshold", DefaultConfidenceThreshold)
	v.SetDefault("detection.iou_threshold", DefaultIoUThreshold)
	v.SetDefault("detection.max_detections", 0)
	v.SetDefault("detection.threads", 0)
	v.SetDefault("detection.use_xnnpack", false)

	v.SetDefault("pairing.code_length", DefaultCodeLength)
	v.SetDefault("pairing.code_alphabet", DefaultCodeAlphabet)
	v.SetDefault("pairing.cache_ttl", 5*time.Minute)
	v.SetDefault("pairing.alert_cooldown", 30*time.Second)

	v.SetDefault("monitoring.reconnect_delay", DefaultReconnectDelay)
	v.SetDefault("monitoring.max_reconnect_delay", time.Duration(0))
	v.SetDefault("monitoring.heartbeat_interval", DefaultHeartbeatInterval)
	v.SetDefault("monitoring.device_id", "")

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite.path", "pairwatch.db")
	v.SetDefault("store.mysql.host", "localhost")
	v.SetDefault("store.mysql.port", 3306)
	v.SetDefault("store.mysql.username", "")
	v.SetDefault("store.mysql.password", "")
	v.SetDefault("store.mysql.database", "pairwatch")
	v.SetDefault("store.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("store.mqtt.client_id", "")
	v.SetDefault("store.mqtt.username", "")
	v.SetDefault("store.mqtt.password", "")
	v.SetDefault("store.mqtt.topic_prefix", "pairwatch")
	v.SetDefault("store.mqtt.read_timeout", 2*time.Second)
	v.SetDefault("store.poll_interval", 2*time.Second)

	v.SetDefault("local.path", "pairwatch-state.yaml")

	v.SetDefault("notification.shoutrrr.enabled", false)
	v.SetDefault("notification.shoutrrr.urls", []string{})
	v.SetDefault("notification.shoutrrr.timeout", 10*time.Second)
	v.SetDefault("notification.webhook.enabled", false)
	v.SetDefault("notification.webhook.url", "")
	v.SetDefault("notification.webhook.token", "")
	v.SetDefault("notification.webhook.timeout", 10*time.Second)
	v.SetDefault("notification.rate_limit", 1.0)
	v.SetDefault("notification.burst", 5)
	v.SetDefault("notification.dedupe_ttl", time.Hour)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.listen", "127.0.0.1:8089")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
