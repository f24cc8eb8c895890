// Package store implements the User Store: a durable Postgres-backed
// mapping of username to (user_id, hashed_password) with a parallel
// deactivated partition supporting lossless deactivate/reactivate.
package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"github.com/gatekeep/proxy/internal/logger"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

var (
	validIdentifier = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	validPort       = regexp.MustCompile(`^[0-9]{1,5}$`)
	validSSLMode    = regexp.MustCompile(`^(disable|require|verify-ca|verify-full)$`)
)

// validateConfig rejects connection parameters that don't look like
// plain identifiers, before they ever reach a DSN string.
func validateConfig(cfg Config) error {
	if !validIdentifier.MatchString(cfg.Host) {
		return fmt.Errorf("invalid host: %q", cfg.Host)
	}
	if !validPort.MatchString(cfg.Port) {
		return fmt.Errorf("invalid port: %q", cfg.Port)
	}
	if !validIdentifier.MatchString(cfg.User) {
		return fmt.Errorf("invalid user: %q", cfg.User)
	}
	if !validIdentifier.MatchString(cfg.DBName) {
		return fmt.Errorf("invalid dbname: %q", cfg.DBName)
	}
	if !validSSLMode.MatchString(cfg.SSLMode) {
		return fmt.Errorf("invalid sslmode: %q", cfg.SSLMode)
	}
	return nil
}

// Database wraps a connection pool to the User Store.
type Database struct {
	db *sql.DB
}

// NewDatabase opens and pools a connection to Postgres.
func NewDatabase(cfg Config) (*Database, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	if cfg.SSLMode == "disable" {
		logger.Database().Warn().Msg("POSTGRES_SSLMODE is disable — connections to the user store are not encrypted")
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Database{db: db}, nil
}

// NewDatabaseForTesting wraps an already-constructed *sql.DB, used by
// tests to inject a sqlmock connection.
func NewDatabaseForTesting(db *sql.DB) *Database {
	return &Database{db: db}
}

// DB returns the underlying pool.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close releases the connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate creates the two-partition user schema if it does not exist.
func (d *Database) Migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id  TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deactivated_users (
	user_id  TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL
);
`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
