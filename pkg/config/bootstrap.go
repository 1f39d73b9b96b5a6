// Package config provides bootstrap configuration and compiled-in tunables.
// Bootstrap covers only what is needed before the database is open: host,
// port, and the database path. Everything else lives in server settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Bootstrap is the pre-database configuration, loaded from the environment.
type Bootstrap struct {
	Host         string
	Port         int
	DatabasePath string
}

// getEnv returns the environment value for key, or defaultValue if unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// LoadBootstrapFromEnv reads bootstrap configuration from the environment.
// AMELIA_HOST, AMELIA_PORT, AMELIA_DATABASE_PATH; all have defaults.
func LoadBootstrapFromEnv() (*Bootstrap, error) {
	portStr := getEnv("AMELIA_PORT", "8420")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid AMELIA_PORT %q", portStr)
	}

	dbPath := getEnv("AMELIA_DATABASE_PATH", defaultDatabasePath())

	return &Bootstrap{
		Host:         getEnv("AMELIA_HOST", "127.0.0.1"),
		Port:         port,
		DatabasePath: dbPath,
	}, nil
}

// Addr returns the host:port listen address.
func (b *Bootstrap) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "amelia.db"
	}
	return filepath.Join(home, ".amelia", "amelia.db")
}
