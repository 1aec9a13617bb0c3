package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

const (
	connectTimeout     = 5 * time.Second
	healthPingTimeout  = 2 * time.Second
	poolSampleInterval = 10 * time.Second

	// Above this share of MaxOpenConns in use, the pool monitor logs a warning.
	poolWarnUtilization = 0.8
)

// Config holds the Postgres connection settings
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds the libpq key/value connection string
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// PostgresDB wraps sqlx.DB with query timing, error metrics, and a
// background pool monitor.
type PostgresDB struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config
	stop    chan struct{}
}

// NewPostgresDB opens and verifies a pooled Postgres connection
func NewPostgresDB(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*PostgresDB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &PostgresDB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
		stop:    make(chan struct{}),
	}

	logger.Info(context.Background(), "[DB_INIT] Postgres connection pool ready", logging.Fields{
		"host":           cfg.Host,
		"port":           cfg.Port,
		"database":       cfg.Database,
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	})

	go p.monitorConnectionPool()

	return p, nil
}

// Close stops the pool monitor and closes the connection pool
func (p *PostgresDB) Close() error {
	close(p.stop)
	p.logger.Info(context.Background(), "[DB_CLOSE] Closing connection pool", logging.Fields{
		"database": p.config.Database,
	})
	return p.db.Close()
}

// DB exposes the underlying sqlx handle
func (p *PostgresDB) DB() *sqlx.DB {
	return p.db
}

// observe records timing for a finished query and, when err is a real
// failure, bumps the error counter and logs it. sql.ErrNoRows is left to
// the caller to interpret.
func (p *PostgresDB) observe(ctx context.Context, queryType, op string, start time.Time, err error) {
	p.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())

	if err == nil || err == sql.ErrNoRows {
		return
	}

	p.metrics.RecordDBError(op)
	p.logger.Error(ctx, "[DB_QUERY_ERROR] Query failed", logging.Fields{
		"query_type": queryType,
		"operation":  op,
	}, err)
}

// ExecContext runs a statement and records its duration under queryType
func (p *PostgresDB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := p.db.ExecContext(ctx, query, args...)
	p.observe(ctx, queryType, "exec", start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetContext scans a single row into dest. sql.ErrNoRows passes through
// untouched so callers can map it to their own not-found errors.
func (p *PostgresDB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := p.db.GetContext(ctx, dest, query, args...)
	p.observe(ctx, queryType, "get", start, err)
	return err
}

// SelectContext scans all result rows into dest
func (p *PostgresDB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := p.db.SelectContext(ctx, dest, query, args...)
	p.observe(ctx, queryType, "select", start, err)
	return err
}

// BeginTx starts a read-committed transaction
func (p *PostgresDB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		p.metrics.RecordDBError("begin_tx")
		p.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}
	return tx, nil
}

func (p *PostgresDB) monitorConnectionPool() {
	ticker := time.NewTicker(poolSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		stats := p.db.Stats()
		p.metrics.UpdateDBConnectionPool(stats.InUse, stats.Idle, stats.OpenConnections)

		if p.config.MaxOpenConns <= 0 {
			continue
		}
		if float64(stats.InUse)/float64(p.config.MaxOpenConns) > poolWarnUtilization {
			p.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool nearly exhausted", logging.Fields{
				"in_use":   stats.InUse,
				"idle":     stats.Idle,
				"open":     stats.OpenConnections,
				"max_open": p.config.MaxOpenConns,
			})
		}
	}
}

// HealthCheck pings the database with a short timeout
func (p *PostgresDB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	if err := p.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
