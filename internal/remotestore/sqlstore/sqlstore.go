// Package sqlstore implements remotestore.Store on a relational database
// through gorm. SQLite serves single-host setups and tests; MySQL lets camera
// and monitor hosts share one database. Subscriptions poll.
package sqlstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const (
	defaultPollInterval = 2 * time.Second
	slowQueryThreshold  = 200 * time.Millisecond
	mysqlConnectTimeout = "10s"
	likeEscape          = "!"
)

// MySQLConfig holds MySQL connection details.
type MySQLConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Config selects and configures the database.
type Config struct {
	Driver       string
	SQLitePath   string // ":memory:" for a private in-memory database
	MySQL        MySQLConfig
	PollInterval time.Duration
	Logger       logger.Logger
	Observer     remotestore.Observer
	Now          func() time.Time
}

// node is one row per store node.
type node struct {
	Path      string    `gorm:"primaryKey;size:512"`
	Parent    string    `gorm:"index;size:512;not null"`
	Key       string    `gorm:"size:191;not null"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (node) TableName() string { return "nodes" }

// Store is a gorm-backed remotestore.Store.
type Store struct {
	db       *gorm.DB
	driver   string
	interval time.Duration
	log      logger.Logger
	observer remotestore.Observer
	now      func() time.Time

	mu     sync.Mutex
	feeds  map[*remotestore.Feed]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("store.sql")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			return nil, errors.Newf("sqlite path is required").Category(errors.CategoryConfiguration).Build()
		}
		dialector = sqlite.Open(sqliteDSN(path))
	case DriverMySQL:
		dialector = gormmysql.Open(MySQLDSN(cfg.MySQL))
	default:
		return nil, errors.Newf("unsupported sql driver %q", cfg.Driver).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return open(cfg, dialector, log)
}

func open(cfg Config, dialector gorm.Dialector, log logger.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)).
			Category(errors.CategoryRemoteStore).
			Context("driver", cfg.Driver).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryRemoteStore).Build()
	}
	if cfg.Driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and avoids
		// SQLITE_BUSY between the poller and writers.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&node{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.New(fmt.Errorf("failed to migrate nodes table: %w", err)).
			Category(errors.CategoryRemoteStore).
			Context("driver", cfg.Driver).
			Build()
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		db:       db,
		driver:   cfg.Driver,
		interval: interval,
		log:      log,
		observer: cfg.Observer,
		now:      now,
		feeds:    make(map[*remotestore.Feed]context.CancelFunc),
	}
	if s.observer != nil {
		s.observer.SetConnected(s.driver, true)
	}
	log.Info("sql store opened", logger.String("driver", cfg.Driver), logger.Duration("poll_interval", interval))
	return s, nil
}

// MySQLDSN builds a DSN with mysql.Config so credentials are escaped.
func MySQLDSN(c MySQLConfig) string {
	cfg := mysql.Config{
		User:   c.Username,
		Passwd: c.Password,
		Net:    "tcp",
		Addr:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		DBName: c.Database,
		Params: map[string]string{
			"charset":      "utf8mb4",
			"parseTime":    "True",
			"loc":          "UTC",
			"timeout":      mysqlConnectTimeout,
			"readTimeout":  mysqlConnectTimeout,
			"writeTimeout": mysqlConnectTimeout,
		},
		AllowNativePasswords: true,
	}
	return cfg.FormatDSN()
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}

func (s *Store) observe(op remotestore.Op, start time.Time, err error) {
	if s.observer != nil {
		s.observer.RecordOperation(s.driver, string(op), start, err)
	}
}

func (s *Store) begin(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", remotestore.ErrClosed
	}
	if err := remotestore.ValidatePath(path); err != nil {
		return "", err
	}
	return remotestore.Join(path), nil
}

func (s *Store) Read(ctx context.Context, path string) (v remotestore.Value, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpRead, start, err) }(time.Now())
	if path, err = s.begin(ctx, path); err != nil {
		return nil, err
	}
	var row node
	res := s.db.WithContext(ctx).Where("path = ?", path).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, s.wrap(remotestore.OpRead, path, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, remotestore.NotFound(path)
	}
	return decodeValue(row.Value)
}

func (s *Store) Write(ctx context.Context, path string, v remotestore.Value) (err error) {
	defer func(start time.Time) { s.observe(remotestore.OpWrite, start, err) }(time.Now())
	if path, err = s.begin(ctx, path); err != nil {
		return err
	}
	row, err := s.row(path, v)
	if err != nil {
		return err
	}
	return s.wrap(remotestore.OpWrite, path, s.upsert(s.db.WithContext(ctx), row))
}

func (s *Store) Update(ctx context.Context, path string, fields remotestore.Value) (err error) {
	defer func(start time.Time) { s.observe(remotestore.OpUpdate, start, err) }(time.Now())
	if path, err = s.begin(ctx, path); err != nil {
		return err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing node
		res := tx.Where("path = ?", path).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}
		merged := remotestore.Value{}
		if res.RowsAffected > 0 {
			current, err := decodeValue(existing.Value)
			if err != nil {
				return err
			}
			merged = current
		}
		for k, val := range fields {
			merged[k] = val
		}
		row, err := s.row(path, merged)
		if err != nil {
			return err
		}
		return s.upsert(tx, row)
	})
	return s.wrap(remotestore.OpUpdate, path, txErr)
}

func (s *Store) Delete(ctx context.Context, path string) (err error) {
	defer func(start time.Time) { s.observe(remotestore.OpDelete, start, err) }(time.Now())
	if path, err = s.begin(ctx, path); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("path = ? OR path LIKE ? ESCAPE '"+likeEscape+"'", path, escapeLike(path)+"/%").
		Delete(&node{})
	return s.wrap(remotestore.OpDelete, path, res.Error)
}

func (s *Store) Append(ctx context.Context, path string, v remotestore.Value) (id string, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpAppend, start, err) }(time.Now())
	if path, err = s.begin(ctx, path); err != nil {
		return "", err
	}
	key, err := uuid.NewV7()
	if err != nil {
		return "", remotestore.Failed(remotestore.OpAppend, path, err)
	}
	row, err := s.row(remotestore.Join(path, key.String()), v)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", s.wrap(remotestore.OpAppend, path, err)
	}
	return key.String(), nil
}

func (s *Store) List(ctx context.Context, path, orderBy string) (children []remotestore.Child, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpList, start, err) }(time.Now())
	if path, err = s.begin(ctx, path); err != nil {
		return nil, err
	}
	children, _, err = s.children(ctx, path, orderBy)
	return children, err
}

func (s *Store) children(ctx context.Context, path, orderBy string) ([]remotestore.Child, uint64, error) {
	var rows []node
	if err := s.db.WithContext(ctx).Where("parent = ?", path).Order("path").Find(&rows).Error; err != nil {
		return nil, 0, s.wrap(remotestore.OpList, path, err)
	}
	h := fnv.New64a()
	children := make([]remotestore.Child, 0, len(rows))
	for _, r := range rows {
		v, err := decodeValue(r.Value)
		if err != nil {
			return nil, 0, err
		}
		_, _ = h.Write([]byte(r.Key))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(r.Value))
		_, _ = h.Write([]byte{0})
		children = append(children, remotestore.Child{Key: r.Key, Value: v})
	}
	remotestore.SortChildren(children, orderBy)
	return children, h.Sum64(), nil
}

// Subscribe polls the children of path every PollInterval and publishes a
// snapshot whenever their content changes. A failed poll ends the
// subscription with an error.
func (s *Store) Subscribe(ctx context.Context, path, orderBy string) (sub remotestore.Subscription, err error) {
	defer func(start time.Time) { s.observe(remotestore.OpSubscribe, start, err) }(time.Now())
	if path, err = s.begin(ctx, path); err != nil {
		return nil, err
	}
	initial, fingerprint, err := s.children(ctx, path, orderBy)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var feed *remotestore.Feed
	feed = remotestore.NewFeed(func() {
		cancel()
		<-done
		s.mu.Lock()
		delete(s.feeds, feed)
		s.mu.Unlock()
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, remotestore.ErrClosed
	}
	s.feeds[feed] = cancel
	s.mu.Unlock()

	feed.Push(remotestore.Snapshot{Path: path, Children: initial})
	s.wg.Go(func() {
		defer close(done)
		s.poll(pollCtx, feed, path, orderBy, fingerprint)
	})
	return feed, nil
}

func (s *Store) poll(ctx context.Context, feed *remotestore.Feed, path, orderBy string, last uint64) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		children, fingerprint, err := s.children(ctx, path, orderBy)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("subscription poll failed", logger.String("path", path), logger.Error(err))
			feed.Fail(err)
			return
		}
		if fingerprint != last {
			last = fingerprint
			feed.Push(remotestore.Snapshot{Path: path, Children: children})
		}
	}
}

// Close stops every poller and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for feed, cancel := range s.feeds {
		feed.Fail(remotestore.ErrClosed)
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.observer != nil {
		s.observer.SetConnected(s.driver, false)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) row(path string, v remotestore.Value) (node, error) {
	now := s.now().UTC()
	data, err := remotestore.MarshalValue(v, now)
	if err != nil {
		return node{}, errors.New(err).
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	parent, key := remotestore.Parent(path)
	return node{Path: path, Parent: parent, Key: key, Value: string(data), UpdatedAt: now}, nil
}

func (s *Store) upsert(tx *gorm.DB, row node) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// wrap classifies database errors into remotestore errors.
func (s *Store) wrap(op remotestore.Op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isConnectionError(err) {
		if s.observer != nil {
			s.observer.SetConnected(s.driver, false)
		}
		return remotestore.Unavailable(op, path, err)
	}
	return remotestore.Failed(op, path, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// Server shutdown and lost connection class errors.
		switch myErr.Number {
		case 1040, 1053, 1077, 1078, 1079, 1080, 2006, 2013:
			return true
		}
	}
	return false
}

func decodeValue(raw string) (remotestore.Value, error) {
	var v remotestore.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, errors.New(fmt.Errorf("corrupt node value: %w", err)).
			Category(errors.CategoryRemoteStore).
			Build()
	}
	if v == nil {
		v = remotestore.Value{}
	}
	return v, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}
