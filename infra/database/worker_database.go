package database

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// PostgresConfig holds database configuration.
type PostgresConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPostgresConfig returns the pool defaults. DB_MAX_CONNS overrides the
// connection cap.
func DefaultPostgresConfig() *PostgresConfig {
	maxConns := int32(10)
	if envMax := os.Getenv("DB_MAX_CONNS"); envMax != "" {
		if v, err := strconv.Atoi(envMax); err == nil {
			maxConns = int32(v)
		}
	}

	return &PostgresConfig{
		MaxConns:          maxConns,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// NewPostgres opens the pgx pool used for health checks.
func NewPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewPostgresWithConfig(ctx, databaseURL, DefaultPostgresConfig())
}

func NewPostgresWithConfig(ctx context.Context, databaseURL string, cfg *PostgresConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	config.MaxConns = cfg.MaxConns
	config.MinConns = cfg.MinConns
	config.MaxConnLifetime = cfg.MaxConnLifetime
	config.MaxConnIdleTime = cfg.MaxConnIdleTime
	config.HealthCheckPeriod = cfg.HealthCheckPeriod

	// Disable prepared statement cache to avoid conflicts with PgBouncer
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// NewSQLX opens the database/sql handle the audit store runs on, through the
// pgx driver in simple protocol mode.
func NewSQLX(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	sqlxURL := databaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", sqlxURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns Redis defaults. REDIS_POOL_SIZE overrides the
// pool size.
func DefaultRedisConfig() *RedisConfig {
	poolSize := 20
	if envPool := os.Getenv("REDIS_POOL_SIZE"); envPool != "" {
		if v, err := strconv.Atoi(envPool); err == nil {
			poolSize = v
		}
	}

	return &RedisConfig{
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		// Stream reads block up to the consumer block time.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	return NewRedisWithConfig(ctx, redisURL, DefaultRedisConfig())
}

func NewRedisWithConfig(ctx context.Context, redisURL string, cfg *RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.MaxRetries = cfg.MaxRetries
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
