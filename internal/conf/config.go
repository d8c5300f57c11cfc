// Package conf loads pairwatch settings from yaml, environment variables and
// defaults.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
)

// Settings is the root of the configuration tree.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Detection    DetectionSettings    `yaml:"detection" mapstructure:"detection"`
	Pairing      PairingSettings      `yaml:"pairing" mapstructure:"pairing"`
	Monitoring   MonitoringSettings   `yaml:"monitoring" mapstructure:"monitoring"`
	Store        StoreSettings        `yaml:"store" mapstructure:"store"`
	Local        LocalSettings        `yaml:"local" mapstructure:"local"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	HTTP         HTTPSettings         `yaml:"http" mapstructure:"http"`
	Sentry       SentrySettings       `yaml:"sentry" mapstructure:"sentry"`

	ConfigFile string `yaml:"-" mapstructure:"-"` // file the settings were read from, runtime value
}

// DetectionSettings configures the model, label table and post-processing.
type DetectionSettings struct {
	ModelPath           string  `yaml:"model_path" mapstructure:"model_path"`
	LabelsPath          string  `yaml:"labels_path" mapstructure:"labels_path"` // empty selects the built-in COCO table
	InputSize           int     `yaml:"input_size" mapstructure:"input_size"`
	NumClasses          int     `yaml:"num_classes" mapstructure:"num_classes"`
	NumCandidates       int     `yaml:"num_candidates" mapstructure:"num_candidates"`
	ConfidenceThreshold float32 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	IoUThreshold        float32 `yaml:"iou_threshold" mapstructure:"iou_threshold"`
	MaxDetections       int     `yaml:"max_detections" mapstructure:"max_detections"` // 0 keeps every survivor
	Threads             int     `yaml:"threads" mapstructure:"threads"`
	UseXNNPACK          bool    `yaml:"use_xnnpack" mapstructure:"use_xnnpack"`
}

// PairingSettings configures pairing codes, the advisory cache and alert
// publishing.
type PairingSettings struct {
	CodeLength    int           `yaml:"code_length" mapstructure:"code_length"`
	CodeAlphabet  string        `yaml:"code_alphabet" mapstructure:"code_alphabet"`
	CacheTTL      time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	AlertCooldown time.Duration `yaml:"alert_cooldown" mapstructure:"alert_cooldown"`
}

// MonitoringSettings configures the monitor-side session.
type MonitoringSettings struct {
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" mapstructure:"max_reconnect_delay"` // 0 keeps the delay fixed
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	DeviceID          string        `yaml:"device_id" mapstructure:"device_id"`
}

// StoreSettings selects and configures the remote store backend.
type StoreSettings struct {
	Backend      string         `yaml:"backend" mapstructure:"backend"` // memory, sqlite, mysql or mqtt
	SQLite       SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL        MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
	MQTT         MQTTSettings   `yaml:"mqtt" mapstructure:"mqtt"`
	PollInterval time.Duration  `yaml:"poll_interval" mapstructure:"poll_interval"` // sql subscription polling
}

type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type MySQLSettings struct {
	Host         string `yaml:"host" mapstructure:"host"`
	Port         int    `yaml:"port" mapstructure:"port"`
	Username     string `yaml:"username" mapstructure:"username"`
	Password     string `yaml:"password" mapstructure:"password"`
	PasswordFile string `yaml:"password_file" mapstructure:"password_file"`
	Database     string `yaml:"database" mapstructure:"database"`
}

type MQTTSettings struct {
	Broker       string        `yaml:"broker" mapstructure:"broker"`
	ClientID     string        `yaml:"client_id" mapstructure:"client_id"`
	Username     string        `yaml:"username" mapstructure:"username"`
	Password     string        `yaml:"password" mapstructure:"password"`
	PasswordFile string        `yaml:"password_file" mapstructure:"password_file"`
	TopicPrefix  string        `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
}

// LocalSettings locates the device-local durable store.
type LocalSettings struct {
	Path string `yaml:"path" mapstructure:"path"` // empty keeps state in memory only
}

// NotificationSettings configures push-style notifications on the monitor.
type NotificationSettings struct {
	Shoutrrr  ShoutrrrSettings `yaml:"shoutrrr" mapstructure:"shoutrrr"`
	Webhook   WebhookSettings  `yaml:"webhook" mapstructure:"webhook"`
	RateLimit float64          `yaml:"rate_limit" mapstructure:"rate_limit"` // notifications per second
	Burst     int              `yaml:"burst" mapstructure:"burst"`
	DedupeTTL time.Duration    `yaml:"dedupe_ttl" mapstructure:"dedupe_ttl"`
}

type ShoutrrrSettings struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs    []string      `yaml:"urls" mapstructure:"urls"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type WebhookSettings struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	URL       string        `yaml:"url" mapstructure:"url"`
	Token     string        `yaml:"token" mapstructure:"token"`
	TokenFile string        `yaml:"token_file" mapstructure:"token_file"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// HTTPSettings configures the status server started by the monitor.
type HTTPSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	DSNFile string `yaml:"dsn_file" mapstructure:"dsn_file"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile (or config.yaml from the default locations when
// empty), applies PAIRWATCH_* environment overrides and validates the result.
// A missing default config file is not an error; defaults are used.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}
	settings.ConfigFile = v.ConfigFileUsed()

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "bind_env").
			Build()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("error reading config file %s: %w", configFile, err)).
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range DefaultConfigPaths() {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "read_config").
			Build()
	}
	return nil
}

// GetSettings returns the settings from the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAML writes settings to path atomically. Comments in an existing file
// are not preserved.
func SaveYAML(path string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
