package wrds

import (
	"fmt"
	"net/url"
)

const (
	DefaultHost     = "wrds-pgdata.wharton.upenn.edu"
	DefaultPort     = 9737
	DefaultDatabase = "wrds"
)

// Config holds WRDS credentials and connection settings.
type Config struct {
	Username string
	Password string
	Host     string
	Port     int
	Database string
	SSLMode  string
	MaxConns int
}

// HasCredentials reports whether a username is set. WRDS also accepts
// passwords from ~/.pgpass, so an empty password is allowed.
func (c Config) HasCredentials() bool {
	return c.Username != ""
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg Config) string {
	escapedPassword := url.QueryEscape(cfg.Password)

	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	db := cfg.Database
	if db == "" {
		db = DefaultDatabase
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	userinfo := url.QueryEscape(cfg.Username)
	if cfg.Password != "" {
		userinfo += ":" + escapedPassword
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s", userinfo, host, port, db, sslMode)
}
