// Package store provides PostgreSQL-backed persistence for the hub.
//
// The session table is the hub's sole source of truth (§5): there is no
// in-memory shadow, and every mutation goes through this package.
package store

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds session-store connection parameters.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps the pooled connection to the session store.
type Database struct {
	db *sql.DB
}

// validateConfig guards against SQL-injection-shaped values reaching the
// connection string, since it is built by string formatting rather than
// through a parameterized driver call.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	nameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if config.User == "" || !nameRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %q", config.User)
	}
	if config.DBName == "" || !nameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %q", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a pooled connection to the session store.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB (e.g. a sqlmock) without
// opening a real connection. Intended only for tests.
func NewDatabaseForTesting(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close releases all pooled connections.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for use by store types.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the session table if it does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			user_name VARCHAR(255) UNIQUE NOT NULL,
			url_path VARCHAR(255) NOT NULL,
			service_address VARCHAR(255),
			container_name VARCHAR(255) NOT NULL,
			restart BOOLEAN NOT NULL DEFAULT false,
			gpu BOOLEAN NOT NULL DEFAULT false,
			shared BOOLEAN NOT NULL DEFAULT false,
			cpu_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_activity TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions (last_activity)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
