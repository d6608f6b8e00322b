package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"aquant/internal/errors"
	"aquant/internal/logger"
)

// DB wraps the sql pool with configuration and periodic pool statistics.
// Store layers (market bars, backtest runs, users) hang their queries off
// this type.
type DB struct {
	*sql.DB
	config *Config
	log    logger.Logger

	mu    sync.RWMutex
	stats PoolStats

	statsCallback func(PoolStats)
	stop          chan struct{}
	stopOnce      sync.Once
}

// Config represents database connection configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	User            string        `yaml:"user" json:"user"`
	Password        string        `yaml:"password" json:"password"`
	DBName          string        `yaml:"dbname" json:"dbname"`
	SSLMode         string        `yaml:"sslmode" json:"sslmode"`
	MaxOpen         int           `yaml:"max_open" json:"max_open"`
	MaxIdle         int           `yaml:"max_idle" json:"max_idle"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DSN renders the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func (c *Config) applyDefaults() {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpen <= 0 {
		c.MaxOpen = 25
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 15 * time.Minute
	}
}

// PoolStats is a point-in-time snapshot of connection pool health.
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxIdleClosed      int64         `json:"max_idle_closed"`
	MaxLifetimeClosed  int64         `json:"max_lifetime_closed"`
	LastUpdated        time.Time     `json:"last_updated"`
}

// NewConnection opens a pooled connection and verifies it with retried
// pings. The returned DB starts a background stats sampler stopped by
// Close.
func NewConnection(cfg *Config, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	cfg.applyDefaults()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeDBConnection, "failed to open database", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var pingErr error
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		log.Warn("database ping failed",
			"attempt", i+1, "max_attempts", maxRetries, "error", pingErr.Error())
		if i < maxRetries-1 {
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, errors.NewAppError(errors.ErrCodeDBConnection,
			fmt.Sprintf("failed to ping database %s@%s:%d/%s after %d attempts",
				cfg.User, cfg.Host, cfg.Port, cfg.DBName, maxRetries), pingErr)
	}

	log.Info("database connection established",
		"host", cfg.Host, "dbname", cfg.DBName,
		"max_open", cfg.MaxOpen, "max_idle", cfg.MaxIdle,
	)

	conn := &DB{
		DB:     db,
		config: cfg,
		log:    log,
		stop:   make(chan struct{}),
	}
	go conn.samplePoolStats()

	return conn, nil
}

// Close stops the stats sampler and closes the pool.
func (db *DB) Close() error {
	db.stopOnce.Do(func() { close(db.stop) })
	return db.DB.Close()
}

// HealthCheck pings the database within the caller's deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return errors.NewAppError(errors.ErrCodeDBConnection, "database ping failed", err)
	}
	return nil
}

// Stats returns the latest sampled pool statistics.
func (db *DB) Stats() PoolStats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.stats
}

// Configured returns the connection configuration.
func (db *DB) Configured() *Config {
	return db.config
}

// OnStats registers a callback invoked with each stats sample, used to feed
// pool gauges into the metrics collector.
func (db *DB) OnStats(callback func(PoolStats)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.statsCallback = callback
}

func (db *DB) samplePoolStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
			db.updatePoolStats()
		}
	}
}

func (db *DB) updatePoolStats() {
	s := db.DB.Stats()
	snap := PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
		MaxIdleClosed:      s.MaxIdleClosed,
		MaxLifetimeClosed:  s.MaxLifetimeClosed,
		LastUpdated:        time.Now(),
	}

	db.mu.Lock()
	db.stats = snap
	callback := db.statsCallback
	db.mu.Unlock()

	if callback != nil {
		callback(snap)
	}

	if snap.WaitCount > 0 {
		db.log.Warn("database pool under pressure",
			"wait_count", snap.WaitCount,
			"wait_duration", snap.WaitDuration.String(),
			"in_use", snap.InUse,
			"idle", snap.Idle,
		)
	}
}

// IsHealthy reports whether the pool has headroom: under 80% utilization
// and no runaway wait events.
func (db *DB) IsHealthy() bool {
	stats := db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse > stats.MaxOpenConnections*80/100 {
		return false
	}
	return stats.WaitCount <= 100
}

// HealthStatus returns the fields the health endpoint reports.
func (db *DB) HealthStatus(ctx context.Context) map[string]interface{} {
	stats := db.Stats()

	pingOK := true
	if err := db.PingContext(ctx); err != nil {
		pingOK = false
		db.log.Warn("database health ping failed", "error", err.Error())
	}

	utilization := 0.0
	if stats.MaxOpenConnections > 0 {
		utilization = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	return map[string]interface{}{
		"healthy":             db.IsHealthy() && pingOK,
		"ping_successful":     pingOK,
		"open_connections":    stats.OpenConnections,
		"in_use":              stats.InUse,
		"idle":                stats.Idle,
		"wait_count":          stats.WaitCount,
		"utilization_percent": utilization,
		"last_updated":        stats.LastUpdated,
	}
}
