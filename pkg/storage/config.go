package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBusyTimeout is how long SQLite waits on a locked database before
// returning SQLITE_BUSY.
const DefaultBusyTimeout = 5 * time.Second

// Config describes one SQLite database file.
type Config struct {
	// Path is the database file. A leading "~/" is expanded.
	Path string

	// MustExist refuses to create the file when it is absent.
	MustExist bool

	// BusyTimeout overrides DefaultBusyTimeout when positive.
	BusyTimeout time.Duration

	// MaxOpenConns limits the connection pool. Zero leaves the driver default.
	MaxOpenConns int
}

// Validate normalizes the path and checks existence requirements.
func (c *Config) Validate() error {
	if c.Path == "" {
		return NewInvalidInputError("path", "database path is required")
	}

	if strings.HasPrefix(c.Path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.Path = filepath.Join(home, c.Path[2:])
	}

	if c.Path == ":memory:" {
		return nil
	}

	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return NewInvalidInputError("path", fmt.Sprintf("invalid path: %v", err))
	}
	c.Path = absPath

	info, err := os.Stat(c.Path)
	switch {
	case err == nil && info.IsDir():
		return NewInvalidInputError("path", fmt.Sprintf("%s is a directory", c.Path))
	case err == nil:
		return nil
	case os.IsNotExist(err) && c.MustExist:
		return NewMissingError(c.Path)
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(filepath.Dir(c.Path), 0o750); mkErr != nil {
			return fmt.Errorf("failed to create database directory: %w", mkErr)
		}
		return nil
	default:
		return fmt.Errorf("failed to stat database: %w", err)
	}
}

// dsn renders the glebarez/sqlite connection string.
func (c *Config) dsn() string {
	timeout := c.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}
	if c.Path == ":memory:" {
		return c.Path
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", c.Path, timeout.Milliseconds())
}
