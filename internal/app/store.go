package app

import (
	"context"

	"github.com/tphakala/pairwatch/internal/conf"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/remotestore"
	"github.com/tphakala/pairwatch/internal/remotestore/mqttstore"
	"github.com/tphakala/pairwatch/internal/remotestore/sqlstore"
)

// Remote store backends selectable in settings.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendMQTT   = "mqtt"
)

// OpenRemoteStore opens the backend selected by s.Backend.
func OpenRemoteStore(ctx context.Context, s conf.StoreSettings, log logger.Logger, observer remotestore.Observer) (remotestore.Store, error) {
	log.Info("opening remote store", logger.String("backend", s.Backend))

	switch s.Backend {
	case BackendMemory:
		var opts []remotestore.MemoryOption
		if observer != nil {
			opts = append(opts, remotestore.WithMemoryObserver(observer))
		}
		return remotestore.NewMemoryStore(opts...), nil

	case BackendSQLite, BackendMySQL:
		store, err := sqlstore.Open(sqlstore.Config{
			Driver:     s.Backend,
			SQLitePath: s.SQLite.Path,
			MySQL: sqlstore.MySQLConfig{
				Host:     s.MySQL.Host,
				Port:     s.MySQL.Port,
				Username: s.MySQL.Username,
				Password: s.MySQL.Password,
				Database: s.MySQL.Database,
			},
			PollInterval: s.PollInterval,
			Logger:       log,
			Observer:     observer,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case BackendMQTT:
		store, err := mqttstore.Connect(ctx, mqttstore.Config{
			Broker:      s.MQTT.Broker,
			ClientID:    s.MQTT.ClientID,
			Username:    s.MQTT.Username,
			Password:    s.MQTT.Password,
			TopicPrefix: s.MQTT.TopicPrefix,
			ReadTimeout: s.MQTT.ReadTimeout,
			Logger:      log,
			Observer:    observer,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, errors.Newf("unsupported store backend %q", s.Backend).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("backend", s.Backend).
			Build()
	}
}

// OpenLocalStore opens the device-local durable store. An empty path keeps
// state in memory for the life of the process.
func OpenLocalStore(s conf.LocalSettings) (localstore.Store, error) {
	if s.Path == "" {
		return localstore.NewMemoryStore(), nil
	}
	store, err := localstore.NewFileStore(s.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}
