package scanexec

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vulntor/wafp/pkg/fetch"
	"github.com/vulntor/wafp/pkg/match"
	"github.com/vulntor/wafp/pkg/scanstore"
)

// Params describes one run: either a live scan of Target or a replay of the
// stored scan named Dry.
type Params struct {
	Target *url.URL

	// Product and Version are LIKE patterns. An empty product triggers
	// identification unless Any is set or a version pattern is given.
	Product string
	Version string
	Any     bool

	// Store keeps the session after the run under a name prefixed with it.
	Store string
	// FetchOnly stops after fetching.
	FetchOnly bool
	// Dry replays the named stored scan instead of fetching.
	Dry string

	// SampleSize is the number of paths sampled per product when identifying.
	SampleSize int
}

// Validate rejects option combinations that cannot be honored together.
func (p Params) Validate() error {
	if p.Dry == "" {
		return nil
	}
	switch {
	case p.Target != nil:
		return fmt.Errorf("%w: a stored scan replay takes no target URL", ErrInvalidParams)
	case p.FetchOnly:
		return fmt.Errorf("%w: --fetch has nothing to fetch in a replay", ErrInvalidParams)
	case p.Store != "":
		return fmt.Errorf("%w: a replayed scan is already stored", ErrInvalidParams)
	}
	return nil
}

// Result summarizes a finished run.
type Result struct {
	SessionName    string                `json:"session,omitempty" yaml:"session,omitempty"`
	Retained       bool                  `json:"retained" yaml:"retained"`
	Target         string                `json:"target,omitempty" yaml:"target,omitempty"`
	Product        string                `json:"product" yaml:"product"`
	Version        string                `json:"version" yaml:"version"`
	Identification *match.Identification `json:"identification,omitempty" yaml:"identification,omitempty"`
	Fetch          fetch.Summary         `json:"fetch" yaml:"fetch"`
	Matches        []match.Score         `json:"matches" yaml:"matches"`
	Statuses       []match.StatusCount   `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
	FetchOnly      bool                  `json:"fetch_only,omitempty" yaml:"fetch_only,omitempty"`
	Dry            bool                  `json:"dry,omitempty" yaml:"dry,omitempty"`
	StartTime      time.Time             `json:"start_time" yaml:"start_time"`
	EndTime        time.Time             `json:"end_time" yaml:"end_time"`
}

// Snapshot is everything cleanup is allowed to know about a run.
type Snapshot struct {
	Name string
	Dry  bool
}

// SessionStore is the part of scanstore.Store a run writes through.
type SessionStore interface {
	CreateSession(ctx context.Context, name, info string, at time.Time) (scanstore.Session, error)
	AppendResult(ctx context.Context, sessionID int64, r scanstore.Result) error
	Results(ctx context.Context, name string) ([]scanstore.Result, error)
	DeleteSession(ctx context.Context, name string) error
}

// SessionDeleter is a freshly opened handle used only to discard a session.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, name string) error
	Close() error
}

// CleanupOpener opens a new handle on the scan database.
type CleanupOpener func(ctx context.Context) (SessionDeleter, error)

// ProgressSink receives run phase notifications.
type ProgressSink interface {
	OnEvent(ProgressEvent)
}

// ProgressEvent describes one phase transition.
type ProgressEvent struct {
	Phase     string
	Status    string
	Message   string
	Total     int
	Timestamp time.Time
}

// sessionSink appends fetched results to a session as they complete.
type sessionSink struct {
	store     SessionStore
	sessionID int64
}

func (s *sessionSink) Record(ctx context.Context, r fetch.Result) error {
	return s.store.AppendResult(ctx, s.sessionID, scanstore.Result{
		Path:       r.Path,
		Checksum:   r.Checksum,
		StatusCode: r.StatusCode,
	})
}
