// Package workspace locates the directory holding the wafp databases and
// guards writers against running concurrently.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"
)

// File names inside the workspace root.
const (
	FingerprintDBName = "fprints_wafp.db"
	ScanDBName        = "scan_wafp.db"
	ConfigFileName    = "config.yaml"
	lockFileName      = "wafp.lock"
)

// EnvWorkspace overrides the default workspace location.
const EnvWorkspace = "WAFP_WORKSPACE"

// ErrLocked is returned by Lock when another process holds the workspace guard.
var ErrLocked = errors.New("workspace is locked by another wafp process")

var (
	userHomeDir = os.UserHomeDir
	getGOOS     = func() string { return runtime.GOOS }
)

// Prepare ensures the workspace root exists.
// It returns the absolute path to the workspace root that was prepared.
func Prepare(root string) (string, error) {
	if root == "" {
		var err error
		root, err = defaultRoot()
		if err != nil {
			return "", err
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}

	if err := os.MkdirAll(absRoot, 0o750); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}

	return absRoot, nil
}

// FingerprintDB returns the default fingerprint database path under root.
func FingerprintDB(root string) string { return filepath.Join(root, FingerprintDBName) }

// ScanDB returns the default scan database path under root.
func ScanDB(root string) string { return filepath.Join(root, ScanDBName) }

// ConfigFile returns the default configuration file path under root.
func ConfigFile(root string) string { return filepath.Join(root, ConfigFileName) }

// Guard is a held workspace lock.
type Guard struct {
	lock *flock.Flock
}

// Lock takes the workspace write guard without blocking. It returns
// ErrLocked when another process holds it.
func Lock(root string) (*Guard, error) {
	fl := flock.New(filepath.Join(root, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, fl.Path())
	}
	return &Guard{lock: fl}, nil
}

// Unlock releases the guard. It is safe to call on a nil guard.
func (g *Guard) Unlock() error {
	if g == nil || g.lock == nil {
		return nil
	}
	return g.lock.Unlock()
}

func defaultRoot() (string, error) {
	if dir := os.Getenv(EnvWorkspace); dir != "" {
		return dir, nil
	}

	switch getGOOS() {
	case "darwin":
		home, err := userHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "wafp"), nil
	case "windows":
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "wafp"), nil
		}
		home, err := userHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, "AppData", "Roaming", "wafp"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "wafp"), nil
		}
		home, err := userHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if home == "" {
			return "", errors.New("cannot determine workspace directory")
		}
		return filepath.Join(home, ".local", "share", "wafp"), nil
	}
}
