package appctx

import (
	"context"

	"github.com/vulntor/wafp/pkg/config"
)

type key string

const (
	configKey key = "wafp.config.manager"
	pathsKey  key = "wafp.paths"
)

// Paths holds the resolved locations a command works against.
type Paths struct {
	Workspace    string
	Config       string
	Fingerprints string
	Scans        string
}

// WithConfig stores the shared config manager on context.
func WithConfig(ctx context.Context, manager *config.Manager) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey, manager)
}

// Config retrieves the shared config manager from context.
func Config(ctx context.Context) (*config.Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	mgr, ok := ctx.Value(configKey).(*config.Manager)
	return mgr, ok && mgr != nil
}

// WithPaths stores resolved database locations on context.
func WithPaths(ctx context.Context, p Paths) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, pathsKey, p)
}

// PathsFrom retrieves resolved database locations from context.
func PathsFrom(ctx context.Context) (Paths, bool) {
	if ctx == nil {
		return Paths{}, false
	}
	p, ok := ctx.Value(pathsKey).(Paths)
	return p, ok
}
